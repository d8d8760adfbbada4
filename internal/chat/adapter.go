// Package chat connects the clipper to a chat platform: it receives messages
// from one monitored channel and reports status back with reactions.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"clip_bot/internal/config"
	"clip_bot/internal/model"
	"clip_bot/internal/storage"
)

// Adapter is a connection to one chat platform. Implementations only emit
// messages from the configured channel.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Messages() <-chan model.InboundMessage
	// SelfID is the bot's own user ID, known after Connect.
	SelfID() string
	AddReaction(ctx context.Context, msg model.InboundMessage, m model.Marker) error
	RemoveReaction(ctx context.Context, msg model.InboundMessage, m model.Marker) error
	Reply(ctx context.Context, msg model.InboundMessage, text string) error
	// RecentHistory returns up to limit messages, newest first.
	RecentHistory(ctx context.Context, limit int) ([]model.InboundMessage, error)
	Close() error
}

// New creates the adapter selected by cfg.Platform. store keeps platform
// state that must survive restarts.
func New(cfg *config.Config, store storage.Storage, log *slog.Logger) (Adapter, error) {
	switch cfg.Platform {
	case config.PlatformDiscord:
		return NewDiscord(cfg.DiscordToken, cfg.DiscordChannelID, log)
	case config.PlatformMatrix:
		return NewMatrix(MatrixOptions{
			HomeserverURL: cfg.MatrixHomeserverURL,
			AccessToken:   cfg.MatrixAccessToken,
			RoomID:        cfg.MatrixRoomID,
			UserID:        cfg.MatrixUserID,
		}, store, log)
	case config.PlatformTelegram:
		return NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// inbox delivers messages from platform callbacks to the bot loop. Sends
// block until the loop reads or the inbox is shut.
type inbox struct {
	ch   chan model.InboundMessage
	done chan struct{}
	once sync.Once
}

func newInbox() *inbox {
	return &inbox{
		ch:   make(chan model.InboundMessage, 64),
		done: make(chan struct{}),
	}
}

func (b *inbox) push(msg model.InboundMessage) bool {
	select {
	case b.ch <- msg:
		return true
	case <-b.done:
		return false
	}
}

func (b *inbox) shut() {
	b.once.Do(func() { close(b.done) })
}

// connectDelay is the first pause between login attempts.
var connectDelay = 2 * time.Second

// connectRetry retries a platform login a few times before giving up.
func connectRetry(ctx context.Context, log *slog.Logger, platform string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Attempts(3),
		retry.Delay(connectDelay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("retrying connect", "platform", platform, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", platform, err)
	}
	return nil
}
