package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"clip_bot/internal/model"
)

// Telegram only accepts reactions from a fixed emoji set, so markers are
// shown with the closest allowed emoji.
var telegramEmoji = map[model.Marker]string{
	model.MarkerProcessing: "👀",
	model.MarkerSuccess:    "👍",
	model.MarkerWarning:    "🤔",
	model.MarkerError:      "👎",
}

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetSelf() tgbotapi.User
}

// tgBotWrapper exposes the bot's own user through the interface.
type tgBotWrapper struct {
	*tgbotapi.BotAPI
}

func (w tgBotWrapper) GetSelf() tgbotapi.User {
	return w.Self
}

type reactionType struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

// Telegram watches one chat through long polling.
type Telegram struct {
	token  string
	chatID int64
	inbox  *inbox
	log    *slog.Logger
	dial   func(token string) (telegramAPI, error)

	mu     sync.Mutex
	api    telegramAPI
	selfID string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTelegram creates a Telegram adapter. The connection is made in Connect.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	return &Telegram{
		token:  token,
		chatID: chatID,
		inbox:  newInbox(),
		log:    log.With("platform", "telegram"),
		dial: func(token string) (telegramAPI, error) {
			api, err := tgbotapi.NewBotAPI(token)
			if err != nil {
				return nil, err
			}
			return tgBotWrapper{api}, nil
		},
	}, nil
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect logs in and starts the polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	var api telegramAPI
	err := connectRetry(ctx, t.log, t.Name(), func() error {
		var err error
		api, err = t.dial(t.token)
		return err
	})
	if err != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	self := api.GetSelf()
	t.mu.Lock()
	t.api = api
	t.selfID = strconv.FormatInt(self.ID, 10)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	go t.poll(pollCtx, updates)

	t.log.Info("connected", "user", self.UserName, "chat_id", t.chatID)
	return nil
}

func (t *Telegram) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(update)
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || msg.From == nil {
		return
	}
	body := msg.Text
	if body == "" {
		body = msg.Caption
	}
	t.inbox.push(model.InboundMessage{
		ID:          strconv.Itoa(msg.MessageID),
		ChannelID:   strconv.FormatInt(msg.Chat.ID, 10),
		AuthorID:    strconv.FormatInt(msg.From.ID, 10),
		AuthorIsBot: msg.From.IsBot,
		Body:        body,
		CreatedAt:   time.Unix(int64(msg.Date), 0),
	})
}

// Messages returns new messages from the monitored chat.
func (t *Telegram) Messages() <-chan model.InboundMessage { return t.inbox.ch }

// SelfID returns the bot's numeric user ID.
func (t *Telegram) SelfID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selfID
}

// AddReaction sets the bot's reaction on msg. A bot keeps one reaction per
// message, so this replaces the previous marker.
func (t *Telegram) AddReaction(_ context.Context, msg model.InboundMessage, m model.Marker) error {
	return t.setReaction(msg, []reactionType{{Type: "emoji", Emoji: telegramEmoji[m]}})
}

// RemoveReaction clears the bot's reaction on msg.
func (t *Telegram) RemoveReaction(_ context.Context, msg model.InboundMessage, _ model.Marker) error {
	return t.setReaction(msg, []reactionType{})
}

func (t *Telegram) setReaction(msg model.InboundMessage, reaction []reactionType) error {
	messageID, err := strconv.Atoi(msg.ID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", msg.ID, err)
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", t.chatID)
	params.AddNonZero("message_id", messageID)
	if err := params.AddInterface("reaction", reaction); err != nil {
		return fmt.Errorf("encode reaction: %w", err)
	}
	if _, err := t.client().MakeRequest("setMessageReaction", params); err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}
	return nil
}

// Reply sends text as a reply to msg.
func (t *Telegram) Reply(_ context.Context, msg model.InboundMessage, text string) error {
	messageID, err := strconv.Atoi(msg.ID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", msg.ID, err)
	}
	reply := tgbotapi.NewMessage(t.chatID, text)
	reply.ReplyToMessageID = messageID
	reply.DisableWebPagePreview = true
	if _, err := t.client().Send(reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// RecentHistory returns nothing: the Bot API cannot read chat history.
// Messages sent while the bot was offline are still delivered as pending
// updates on the next poll.
func (t *Telegram) RecentHistory(context.Context, int) ([]model.InboundMessage, error) {
	return nil, nil
}

// Close stops polling.
func (t *Telegram) Close() error {
	t.inbox.shut()
	t.mu.Lock()
	api, cancel, done := t.api, t.cancel, t.done
	t.mu.Unlock()
	if api == nil {
		return nil
	}
	cancel()
	api.StopReceivingUpdates()
	<-done
	return nil
}

func (t *Telegram) client() telegramAPI {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.api
}
