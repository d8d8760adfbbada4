// Package pipeline clips the links in a chat message into the vault and
// reports the result on the message.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clip_bot/internal/links"
	"clip_bot/internal/model"
	"clip_bot/internal/note"
)

// ErrVaultUnavailable is returned by ClipURL when the vault does not answer
// the reachability probe.
var ErrVaultUnavailable = errors.New("vault unavailable")

// Vault is the note store the pipeline writes to.
type Vault interface {
	Probe(ctx context.Context) bool
	WriteNote(ctx context.Context, path, content string) error
}

// Extractor turns a URL into a clip.
type Extractor interface {
	Extract(ctx context.Context, url string) (*model.ClipResult, error)
}

// Journal records every note written.
type Journal interface {
	RecordClip(ctx context.Context, rec *model.ClipRecord) error
}

// Options configure a Pipeline.
type Options struct {
	// Folder is the vault folder notes are written to, with a trailing slash.
	Folder string
	// Rules drops URLs that should never be clipped. Nil keeps every URL.
	Rules *links.Rules
}

// Pipeline processes messages one at a time. Live messages and recovery
// share a single Pipeline so their work never interleaves.
type Pipeline struct {
	vault     Vault
	extractor Extractor
	journal   Journal
	reporter  *Reporter
	folder    string
	rules     *links.Rules
	log       *slog.Logger

	mu   sync.Mutex
	now  func() time.Time
	last time.Time
	// taken holds the IDs of messages already handled in this run.
	taken map[string]bool
	// paths holds the note paths written in this run.
	paths map[string]bool
}

// New creates a Pipeline. journal may be nil.
func New(v Vault, ex Extractor, journal Journal, r Reactor, opts Options, log *slog.Logger) *Pipeline {
	return &Pipeline{
		vault:     v,
		extractor: ex,
		journal:   journal,
		reporter:  NewReporter(r, log),
		folder:    opts.Folder,
		rules:     opts.Rules,
		log:       log,
		now:       time.Now,
		taken:     make(map[string]bool),
		paths:     make(map[string]bool),
	}
}

// HasLinks reports whether msg contains a URL the pipeline would clip.
func (p *Pipeline) HasLinks(msg model.InboundMessage) bool {
	return len(p.rules.Find(msg.Body)) > 0
}

// Process clips every URL in msg and marks the message with the aggregate
// outcome. It returns false, without touching the message, when msg has no
// URLs to clip or was already taken earlier in this run.
func (p *Pipeline) Process(ctx context.Context, msg model.InboundMessage) (model.Outcome, bool) {
	urls := p.rules.Find(msg.Body)
	if len(urls) == 0 {
		return model.OutcomeSuccess, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.log.With("message_id", msg.ID)
	if msg.ID != "" {
		if p.taken[msg.ID] {
			log.Debug("message already taken, skipping")
			return model.OutcomeSuccess, false
		}
		p.taken[msg.ID] = true
	}
	log.Info("processing message", "urls", len(urls))
	p.reporter.Processing(ctx, msg)

	outcome := model.OutcomeSuccess
	for _, u := range urls {
		res, err := p.clip(ctx, u, msg)
		if err != nil {
			outcome = model.OutcomeError
			if res.vaultFailed {
				log.Error("vault failure, stopping", "url", u, "error", err)
				break
			}
			log.Error("clip url", "url", u, "error", err)
			continue
		}
		log.Info("clipped", "url", u, "path", res.record.Path, "outcome", res.record.Outcome)
		outcome = model.Worst(outcome, res.record.Outcome)
	}

	p.reporter.Finish(ctx, msg, outcome)
	log.Info("message done", "outcome", outcome)
	return outcome, true
}

// ClipURL clips a single URL outside any chat message.
func (p *Pipeline) ClipURL(ctx context.Context, url string) (*model.ClipRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.clip(ctx, url, model.InboundMessage{})
	if err != nil {
		return nil, err
	}
	return res.record, nil
}

type clipResult struct {
	record *model.ClipRecord
	// vaultFailed means the vault could not take the note, so later URLs
	// would fail the same way.
	vaultFailed bool
}

// clip runs probe, extract, build and write for one URL. Callers hold p.mu.
func (p *Pipeline) clip(ctx context.Context, url string, msg model.InboundMessage) (clipResult, error) {
	if !p.vault.Probe(ctx) {
		return clipResult{vaultFailed: true}, ErrVaultUnavailable
	}

	clip, err := p.extractor.Extract(ctx, url)
	if err != nil {
		return clipResult{}, fmt.Errorf("extract: %w", err)
	}

	n, err := p.build(clip, url)
	if err != nil {
		return clipResult{}, fmt.Errorf("build note: %w", err)
	}
	if err := p.vault.WriteNote(ctx, n.Path, n.Content); err != nil {
		return clipResult{vaultFailed: true}, fmt.Errorf("write note: %w", err)
	}

	rec := &model.ClipRecord{
		MessageID:   msg.ID,
		ChannelID:   msg.ChannelID,
		URL:         url,
		ResolvedURL: clip.URL,
		Title:       clip.Title,
		Path:        n.Path,
		Outcome:     model.OutcomeSuccess,
	}
	if clip.IsError {
		rec.Outcome = model.OutcomeWarning
	}
	p.record(ctx, rec)
	return clipResult{record: rec}, nil
}

// build renders the note for clip. A path already used in this run is
// rebuilt with the next stamp, which yields a different hash. Callers hold p.mu.
func (p *Pipeline) build(clip *model.ClipResult, url string) (model.Note, error) {
	for {
		n, err := note.Build(p.folder, clip, note.Source{URL: url, At: p.stamp()})
		if err != nil {
			return model.Note{}, err
		}
		if !p.paths[n.Path] {
			p.paths[n.Path] = true
			return n, nil
		}
		p.log.Debug("note path already used, rehashing", "path", n.Path)
	}
}

func (p *Pipeline) record(ctx context.Context, rec *model.ClipRecord) {
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordClip(ctx, rec); err != nil {
		p.log.Warn("journal clip", "path", rec.Path, "error", err)
	}
}

// stamp returns a strictly increasing time, so each note in a run hashes a
// distinct input.
func (p *Pipeline) stamp() time.Time {
	t := p.now()
	if !t.After(p.last) {
		t = p.last.Add(time.Nanosecond)
	}
	p.last = t
	return t
}
