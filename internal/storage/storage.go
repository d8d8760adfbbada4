// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"clip_bot/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// RecordClip journals a note written to the vault and populates its ID
	// and CreatedAt.
	RecordClip(ctx context.Context, rec *model.ClipRecord) error
	// ListClips returns up to limit journal entries, newest first.
	ListClips(ctx context.Context, limit int) ([]model.ClipRecord, error)

	// GetState returns the value stored under key, or "" when unset.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}
