// Package sqlite provides a SQLite-backed message.Sink for single-machine
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MrWong99/interpreta/pkg/message"
)

var _ message.Sink = (*SessionSink)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	session_id    TEXT     NOT NULL,
	id            INTEGER  NOT NULL,
	original      TEXT     NOT NULL,
	translated    TEXT,
	created_at    DATETIME NOT NULL,
	translated_at DATETIME,
	PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
`

// Store is a SQLite database holding the messages of all sessions.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases
	// from being private per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session returns the sink that writes messages for sessionID.
func (s *Store) Session(sessionID string) *SessionSink {
	return &SessionSink{db: s.db, sessionID: sessionID}
}

// List returns all messages of a session ordered by id.
func (s *Store) List(ctx context.Context, sessionID string) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, original, translated, created_at FROM messages WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var (
			m          message.Message
			translated sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Original, &translated, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		if translated.Valid {
			m.Translated = &translated.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SessionSink is the message.Sink of one session.
type SessionSink struct {
	db        *sql.DB
	sessionID string
}

// CreateMessage implements message.Sink.
func (s *SessionSink) CreateMessage(ctx context.Context, id int64, original string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, id, original, created_at) VALUES (?, ?, ?, ?)`,
		s.sessionID, id, original, ts.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: create message %d: %w", id, err)
	}
	return nil
}

// SetTranslation implements message.Sink.
func (s *SessionSink) SetTranslation(ctx context.Context, id int64, translated string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET translated = ?, translated_at = ? WHERE session_id = ? AND id = ?`,
		translated, time.Now().UTC(), s.sessionID, id)
	if err != nil {
		return fmt.Errorf("sqlite: set translation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: set translation %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: set translation %d: %w", id, message.ErrNotFound)
	}
	return nil
}
