package pipeline

import (
	"context"
	"log/slog"

	"clip_bot/internal/model"
)

// VaultErrorReply is posted when a message ends with the error outcome.
const VaultErrorReply = "❌ Could not save to the vault. Check that the vault backend is running and reachable."

// Reactor is the part of a chat platform the pipeline reports through.
type Reactor interface {
	SelfID() string
	AddReaction(ctx context.Context, msg model.InboundMessage, m model.Marker) error
	RemoveReaction(ctx context.Context, msg model.InboundMessage, m model.Marker) error
	Reply(ctx context.Context, msg model.InboundMessage, text string) error
}

// Reporter shows processing status on the source message. Delivery failures
// are logged and never change the outcome.
type Reporter struct {
	reactor Reactor
	log     *slog.Logger
}

// NewReporter creates a Reporter that reacts through r.
func NewReporter(r Reactor, log *slog.Logger) *Reporter {
	return &Reporter{reactor: r, log: log}
}

// Processing marks msg as in progress.
func (r *Reporter) Processing(ctx context.Context, msg model.InboundMessage) {
	if err := r.reactor.AddReaction(ctx, msg, model.MarkerProcessing); err != nil {
		r.log.Warn("add processing marker", "message_id", msg.ID, "error", err)
	}
}

// Finish replaces the processing marker with the terminal marker for outcome.
// An error outcome also gets an explanatory reply.
func (r *Reporter) Finish(ctx context.Context, msg model.InboundMessage, outcome model.Outcome) {
	if err := r.reactor.RemoveReaction(ctx, msg, model.MarkerProcessing); err != nil {
		r.log.Warn("remove processing marker", "message_id", msg.ID, "error", err)
	}

	marker := model.MarkerFor(outcome)
	if err := r.reactor.AddReaction(ctx, msg, marker); err != nil {
		r.log.Warn("add status marker", "message_id", msg.ID, "marker", marker, "error", err)
	}

	if outcome == model.OutcomeError {
		if err := r.reactor.Reply(ctx, msg, VaultErrorReply); err != nil {
			r.log.Warn("send error reply", "message_id", msg.ID, "error", err)
		}
	}
}

// IsProcessedByBot reports whether selfID left a terminal marker on msg.
// The processing marker alone does not count, so interrupted work is retried.
func IsProcessedByBot(msg model.InboundMessage, selfID string) bool {
	if selfID == "" {
		return false
	}
	for _, r := range msg.Reactions {
		if r.UserID != selfID {
			continue
		}
		if m, ok := model.ParseMarker(r.Emoji); ok && m.Terminal() {
			return true
		}
	}
	return false
}
