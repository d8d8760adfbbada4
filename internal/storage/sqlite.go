package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"clip_bot/internal/model"
	"clip_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SchemaVersion reports the applied migration version.
func (s *SQLite) SchemaVersion(ctx context.Context) (int64, error) {
	return migrations.Version(ctx, s.db)
}

// RecordClip inserts a journal entry and populates its ID and CreatedAt.
func (s *SQLite) RecordClip(ctx context.Context, rec *model.ClipRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	ts := created.UTC().Format(timeLayout)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clips (message_id, channel_id, url, resolved_url, title, path, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MessageID, rec.ChannelID, rec.URL, rec.ResolvedURL, rec.Title, rec.Path, rec.Outcome.String(), ts,
	)
	if err != nil {
		return fmt.Errorf("insert clip: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	rec.CreatedAt, _ = time.Parse(timeLayout, ts)
	return nil
}

// ListClips returns up to limit journal entries, newest first.
func (s *SQLite) ListClips(ctx context.Context, limit int) ([]model.ClipRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, channel_id, url, resolved_url, title, path, outcome, created_at
		 FROM clips ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clips []model.ClipRecord
	for rows.Next() {
		var (
			rec     model.ClipRecord
			outcome string
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.ChannelID, &rec.URL, &rec.ResolvedURL,
			&rec.Title, &rec.Path, &outcome, &created); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		o, ok := model.ParseOutcome(outcome)
		if !ok {
			return nil, fmt.Errorf("clip %d: unknown outcome %q", rec.ID, outcome)
		}
		rec.Outcome = o
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		clips = append(clips, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clips: %w", err)
	}
	return clips, nil
}

// GetState returns the value stored under key, or "" when unset.
func (s *SQLite) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return v, nil
}

// SetState stores value under key, replacing any previous value.
func (s *SQLite) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}
