package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"clip_bot/internal/links"
	"clip_bot/internal/model"
	"clip_bot/internal/storage"
)

const (
	syncRetryDelay = 5 * time.Second
	// annotatedLimit bounds how many reacted-to events are remembered.
	annotatedLimit = 512
)

// matrixClient is the subset of *mautrix.Client the adapter uses.
type matrixClient interface {
	Whoami(ctx context.Context) (*mautrix.RespWhoami, error)
	SyncWithContext(ctx context.Context) error
	StopSync()
	SendReaction(ctx context.Context, roomID id.RoomID, eventID id.EventID, reaction string) (*mautrix.RespSendEvent, error)
	RedactEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID, extra ...mautrix.ReqRedact) (*mautrix.RespSendEvent, error)
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	Messages(ctx context.Context, roomID id.RoomID, from, to string, dir mautrix.Direction, filter *mautrix.FilterPart, limit int) (*mautrix.RespMessages, error)
	BuildClientURL(urlPath ...any) string
	MakeRequest(ctx context.Context, method string, httpURL string, reqBody any, resBody any) ([]byte, error)
}

// relationsResponse is the body of the relations endpoint.
type relationsResponse struct {
	Chunk     []*event.Event `json:"chunk"`
	NextBatch string         `json:"next_batch,omitempty"`
}

// MatrixOptions identify the account and room to watch.
type MatrixOptions struct {
	HomeserverURL string
	AccessToken   string
	RoomID        string
	// UserID is optional; it is looked up with whoami when empty.
	UserID string
}

// Matrix watches one room through the client-server sync API.
type Matrix struct {
	client matrixClient
	roomID id.RoomID
	inbox  *inbox
	log    *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	selfID      id.UserID
	connectedAt time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	// reactions remembers sent annotations so they can be redacted.
	reactions map[reactionKey]id.EventID
	// annotated holds events the bot already reacted to; live copies of
	// them are dropped. Oldest entries go first once the limit is reached.
	annotated      map[id.EventID]bool
	annotatedOrder []id.EventID
	annotatedLimit int
	onSelf         func(id.UserID)
}

type reactionKey struct {
	event  id.EventID
	marker model.Marker
}

// NewMatrix creates a Matrix adapter. Sync tokens are kept in store so a
// restart resumes where the last run stopped.
func NewMatrix(opts MatrixOptions, store storage.Storage, log *slog.Logger) (*Matrix, error) {
	client, err := mautrix.NewClient(opts.HomeserverURL, id.UserID(opts.UserID), opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	client.Store = &syncStore{store: store}

	m := newMatrix(client, opts.RoomID, log)
	m.selfID = id.UserID(opts.UserID)

	syncer, ok := client.Syncer.(mautrix.ExtensibleSyncer)
	if !ok {
		return nil, errors.New("matrix syncer does not accept event handlers")
	}
	syncer.OnEventType(event.EventMessage, m.handleEvent)

	// whoami fills in the user ID the sync store is keyed by.
	m.onSelf = func(uid id.UserID) { client.UserID = uid }
	return m, nil
}

func newMatrix(client matrixClient, roomID string, log *slog.Logger) *Matrix {
	return &Matrix{
		client:         client,
		roomID:         id.RoomID(roomID),
		inbox:          newInbox(),
		log:            log.With("platform", "matrix"),
		now:            time.Now,
		reactions:      make(map[reactionKey]id.EventID),
		annotated:      make(map[id.EventID]bool),
		annotatedLimit: annotatedLimit,
		onSelf:         func(id.UserID) {},
	}
}

// Name returns "matrix".
func (m *Matrix) Name() string { return "matrix" }

// Connect resolves the bot's identity and starts the sync loop.
func (m *Matrix) Connect(ctx context.Context) error {
	var who *mautrix.RespWhoami
	err := connectRetry(ctx, m.log, m.Name(), func() error {
		var err error
		who, err = m.client.Whoami(ctx)
		return err
	})
	if err != nil {
		return err
	}

	syncCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.selfID = who.UserID
	m.connectedAt = m.now()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()
	m.onSelf(who.UserID)

	go m.syncLoop(syncCtx)
	m.log.Info("connected", "user_id", who.UserID, "room_id", m.roomID)
	return nil
}

func (m *Matrix) syncLoop(ctx context.Context) {
	defer close(m.done)
	for {
		err := m.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("sync stopped, restarting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(syncRetryDelay):
		}
	}
}

// handleEvent receives timeline messages from the syncer.
func (m *Matrix) handleEvent(_ context.Context, ev *event.Event) {
	if ev.RoomID != m.roomID {
		return
	}

	m.mu.Lock()
	self, connectedAt := m.selfID, m.connectedAt
	seen := m.annotated[ev.ID]
	m.mu.Unlock()

	// Backlog from before the connection is left to recovery.
	if connectedAt.IsZero() || time.UnixMilli(ev.Timestamp).Before(connectedAt) {
		return
	}
	if ev.Sender == self || seen {
		return
	}
	msg, ok := m.convert(ev)
	if !ok {
		return
	}
	m.inbox.push(msg)
}

// Messages returns new messages from the monitored room.
func (m *Matrix) Messages() <-chan model.InboundMessage { return m.inbox.ch }

// SelfID returns the bot's Matrix user ID.
func (m *Matrix) SelfID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfID.String()
}

// AddReaction annotates msg with the marker emoji.
func (m *Matrix) AddReaction(ctx context.Context, msg model.InboundMessage, mk model.Marker) error {
	evID := id.EventID(msg.ID)
	resp, err := m.client.SendReaction(ctx, m.roomID, evID, mk.Emoji())
	if err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	m.mu.Lock()
	m.reactions[reactionKey{evID, mk}] = resp.EventID
	m.remember(evID)
	m.mu.Unlock()
	return nil
}

// remember marks evID as annotated and forgets the oldest events past the
// limit, along with their reaction IDs. Callers hold m.mu.
func (m *Matrix) remember(evID id.EventID) {
	if m.annotated[evID] {
		return
	}
	m.annotated[evID] = true
	m.annotatedOrder = append(m.annotatedOrder, evID)
	for len(m.annotatedOrder) > m.annotatedLimit {
		old := m.annotatedOrder[0]
		m.annotatedOrder = m.annotatedOrder[1:]
		delete(m.annotated, old)
		for _, mk := range []model.Marker{model.MarkerProcessing, model.MarkerSuccess, model.MarkerWarning, model.MarkerError} {
			delete(m.reactions, reactionKey{old, mk})
		}
	}
}

// RemoveReaction redacts an annotation sent earlier by AddReaction.
func (m *Matrix) RemoveReaction(ctx context.Context, msg model.InboundMessage, mk model.Marker) error {
	key := reactionKey{id.EventID(msg.ID), mk}
	m.mu.Lock()
	reactionID, ok := m.reactions[key]
	delete(m.reactions, key)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := m.client.RedactEvent(ctx, m.roomID, reactionID); err != nil {
		return fmt.Errorf("redact reaction: %w", err)
	}
	return nil
}

// Reply sends text as a reply to msg.
func (m *Matrix) Reply(ctx context.Context, msg model.InboundMessage, text string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(msg.ID)},
		},
	}
	if _, err := m.client.SendMessageEvent(ctx, m.roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// RecentHistory pages backwards through the room timeline. Annotations are
// looked up only for messages that carry links, since only those matter.
func (m *Matrix) RecentHistory(ctx context.Context, limit int) ([]model.InboundMessage, error) {
	resp, err := m.client.Messages(ctx, m.roomID, "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch room messages: %w", err)
	}

	var out []model.InboundMessage
	for _, ev := range resp.Chunk {
		if ev.Type.Type != event.EventMessage.Type {
			continue
		}
		msg, ok := m.convert(ev)
		if !ok {
			continue
		}
		if len(links.Extract(msg.Body)) > 0 {
			if msg.Reactions, err = m.annotations(ctx, ev.ID); err != nil {
				return nil, err
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *Matrix) annotations(ctx context.Context, evID id.EventID) ([]model.Reaction, error) {
	// GET /_matrix/client/v1/rooms/{room}/relations/{event}/m.annotation
	u := m.client.BuildClientURL("v1", "rooms", m.roomID.String(), "relations", evID.String(), string(event.RelAnnotation))
	var resp relationsResponse
	if _, err := m.client.MakeRequest(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch reactions for %s: %w", evID, err)
	}
	var out []model.Reaction
	for _, rel := range resp.Chunk {
		if rel.Content.Parsed == nil {
			if err := rel.Content.ParseRaw(event.EventReaction); err != nil {
				continue
			}
		}
		r := rel.Content.AsReaction()
		if r.RelatesTo.Key == "" {
			continue
		}
		out = append(out, model.Reaction{Emoji: r.RelatesTo.Key, UserID: rel.Sender.String()})
	}
	return out, nil
}

// Close stops the sync loop.
func (m *Matrix) Close() error {
	m.inbox.shut()
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	m.client.StopSync()
	<-done
	return nil
}

func (m *Matrix) convert(ev *event.Event) (model.InboundMessage, bool) {
	if ev.Content.Parsed == nil {
		if err := ev.Content.ParseRaw(ev.Type); err != nil {
			m.log.Debug("skip unparsable event", "event_id", ev.ID, "error", err)
			return model.InboundMessage{}, false
		}
	}
	content := ev.Content.AsMessage()
	// Edits arrive as new events; only originals are clipped.
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return model.InboundMessage{}, false
	}
	return model.InboundMessage{
		ID:        ev.ID.String(),
		ChannelID: m.roomID.String(),
		AuthorID:  ev.Sender.String(),
		Body:      content.Body,
		CreatedAt: time.UnixMilli(ev.Timestamp),
	}, true
}

var _ mautrix.SyncStore = (*syncStore)(nil)

// syncStore persists sync tokens so a restart does not replay the room.
type syncStore struct {
	store storage.Storage
}

func (s *syncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.store.SetState(ctx, "matrix.filter_id."+userID.String(), filterID)
}

func (s *syncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.store.GetState(ctx, "matrix.filter_id."+userID.String())
}

func (s *syncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.store.SetState(ctx, "matrix.next_batch."+userID.String(), nextBatchToken)
}

func (s *syncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.store.GetState(ctx, "matrix.next_batch."+userID.String())
}
