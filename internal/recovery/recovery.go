// Package recovery replays chat messages that arrived while the bot was
// offline or that an earlier run never finished.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"clip_bot/internal/model"
	"clip_bot/internal/pipeline"
)

// DefaultLimit is the number of recent messages inspected per scan.
const DefaultLimit = 100

// History gives access to recent messages of the monitored channel.
type History interface {
	SelfID() string
	// RecentHistory returns up to limit messages, newest first.
	RecentHistory(ctx context.Context, limit int) ([]model.InboundMessage, error)
}

// Processor handles a single message. Process reports false for messages
// it skipped.
type Processor interface {
	HasLinks(msg model.InboundMessage) bool
	Process(ctx context.Context, msg model.InboundMessage) (model.Outcome, bool)
}

// Options configure a Scanner.
type Options struct {
	// Limit caps the history window. Zero means DefaultLimit.
	Limit int
	// Interval enables periodic rescans after the startup scan. Zero
	// disables them.
	Interval time.Duration
	// Allowed filters authors. Nil allows everyone.
	Allowed func(authorID string) bool
}

// Scanner finds messages with links that carry no terminal marker from the
// bot and feeds them to the processor, oldest first.
type Scanner struct {
	history  History
	proc     Processor
	limit    int
	interval time.Duration
	allowed  func(string) bool
	log      *slog.Logger

	attempts uint
	delay    time.Duration
}

// New creates a Scanner.
func New(h History, p Processor, opts Options, log *slog.Logger) *Scanner {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Scanner{
		history:  h,
		proc:     p,
		limit:    limit,
		interval: opts.Interval,
		allowed:  opts.Allowed,
		log:      log,
		attempts: 3,
		delay:    time.Second,
	}
}

// Run performs the startup scan and then, when an interval is configured,
// rescans periodically. It blocks until ctx is cancelled or, without an
// interval, until the first scan is done.
func (s *Scanner) Run(ctx context.Context) {
	s.scanAndLog(ctx)
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanAndLog(ctx)
		}
	}
}

func (s *Scanner) scanAndLog(ctx context.Context) {
	s.log.Info("scanning for unprocessed messages", "limit", s.limit)
	n, err := s.Scan(ctx)
	if err != nil {
		s.log.Error("recover unprocessed messages", "error", err)
		return
	}
	if n == 0 {
		s.log.Info("no unprocessed messages found")
		return
	}
	s.log.Info("recovery complete", "replayed", n)
}

// Scan replays every unprocessed message in the history window once and
// returns how many were replayed. Messages the processor skips, such as
// ones a live event already took, are not counted.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	msgs, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}

	pending := s.Pending(msgs)
	if len(pending) > 0 {
		s.log.Info("found unprocessed messages", "count", len(pending))
	}
	replayed := 0
	for _, msg := range pending {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		if _, handled := s.proc.Process(ctx, msg); handled {
			replayed++
		}
	}
	return replayed, nil
}

// Pending filters a newest-first history down to the messages that still
// need processing and returns them oldest first.
func (s *Scanner) Pending(msgs []model.InboundMessage) []model.InboundMessage {
	self := s.history.SelfID()

	var out []model.InboundMessage
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		switch {
		case msg.AuthorIsBot, msg.AuthorID == self:
			continue
		case s.allowed != nil && !s.allowed(msg.AuthorID):
			continue
		case pipeline.IsProcessedByBot(msg, self):
			continue
		case !s.proc.HasLinks(msg):
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (s *Scanner) fetch(ctx context.Context) ([]model.InboundMessage, error) {
	var msgs []model.InboundMessage
	err := retry.Do(
		func() error {
			var err error
			msgs, err = s.history.RecentHistory(ctx, s.limit)
			return err
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("retrying history fetch", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return msgs, nil
}
