// Package postgres provides a PostgreSQL-backed message.Sink.
//
// Messages of all sessions share one table keyed by (session_id, id). A
// [Store] owns the connection pool; [Store.Session] returns the Sink for one
// pipeline session.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	sink := store.Session(sessionID)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/interpreta/pkg/message"
)

var _ message.Sink = (*SessionSink)(nil)

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    session_id    TEXT         NOT NULL,
    id            BIGINT       NOT NULL,
    original      TEXT         NOT NULL,
    translated    TEXT,
    created_at    TIMESTAMPTZ  NOT NULL,
    translated_at TIMESTAMPTZ,
    PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_created_at
    ON messages (created_at);
`

// Migrate creates the messages table if it does not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlMessages); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Store holds the connection pool shared by all session sinks. All methods
// are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks connectivity. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Session returns the sink that writes messages for sessionID.
func (s *Store) Session(sessionID string) *SessionSink {
	return &SessionSink{pool: s.pool, sessionID: sessionID}
}

// List returns all messages of a session ordered by id.
func (s *Store) List(ctx context.Context, sessionID string) ([]message.Message, error) {
	const q = `
		SELECT id, original, translated, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (message.Message, error) {
		var m message.Message
		err := row.Scan(&m.ID, &m.Original, &m.Translated, &m.Timestamp)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan messages: %w", err)
	}
	return msgs, nil
}

// SessionSink is the message.Sink of one session.
type SessionSink struct {
	pool      *pgxpool.Pool
	sessionID string
}

// CreateMessage implements message.Sink.
func (s *SessionSink) CreateMessage(ctx context.Context, id int64, original string, ts time.Time) error {
	const q = `
		INSERT INTO messages (session_id, id, original, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, s.sessionID, id, original, ts); err != nil {
		return fmt.Errorf("postgres: create message %d: %w", id, err)
	}
	return nil
}

// SetTranslation implements message.Sink.
func (s *SessionSink) SetTranslation(ctx context.Context, id int64, translated string) error {
	const q = `
		UPDATE messages
		SET translated = $3, translated_at = now()
		WHERE session_id = $1 AND id = $2`

	tag, err := s.pool.Exec(ctx, q, s.sessionID, id, translated)
	if err != nil {
		return fmt.Errorf("postgres: set translation %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set translation %d: %w", id, message.ErrNotFound)
	}
	return nil
}

