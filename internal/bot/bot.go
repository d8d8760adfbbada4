package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"clip_bot/internal/model"
)

// Source is the chat connection the bot listens on.
type Source interface {
	Connect(ctx context.Context) error
	Messages() <-chan model.InboundMessage
	SelfID() string
}

// Processor clips the links in a message.
type Processor interface {
	Process(ctx context.Context, msg model.InboundMessage) (model.Outcome, bool)
}

// Scanner catches up on messages missed while offline.
type Scanner interface {
	Run(ctx context.Context)
}

// Bot feeds live chat messages to the clipping pipeline.
type Bot struct {
	src     Source
	proc    Processor
	scanner Scanner
	allowed func(authorID string) bool
	log     *slog.Logger
}

// New creates a Bot. A nil allowed func accepts every author.
func New(src Source, proc Processor, scanner Scanner, allowed func(string) bool, log *slog.Logger) *Bot {
	if allowed == nil {
		allowed = func(string) bool { return true }
	}
	return &Bot{
		src:     src,
		proc:    proc,
		scanner: scanner,
		allowed: allowed,
		log:     log,
	}
}

// Run connects, starts recovery in the background and handles live
// messages until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.src.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.scanner.Run(ctx)
	}()
	defer wg.Wait()

	msgs := b.src.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(ctx, msg)
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg model.InboundMessage) {
	if msg.AuthorIsBot || msg.AuthorID == b.src.SelfID() {
		return
	}
	if !b.allowed(msg.AuthorID) {
		b.log.Debug("ignoring message from disallowed author", "message_id", msg.ID, "author_id", msg.AuthorID)
		return
	}
	outcome, handled := b.proc.Process(ctx, msg)
	if handled {
		b.log.Debug("message handled", "message_id", msg.ID, "outcome", outcome)
	}
}
