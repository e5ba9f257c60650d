// Package message defines the unit of output of the interpreting pipeline and
// the Sink interface that stores or displays it.
//
// A [Message] is created as soon as a group of sentences has been emitted and
// is updated at most once when its translation arrives. The pipeline writes
// through a Sink and never reads messages back, so a Sink may be a database,
// a chat channel or a live push to connected clients.
package message

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by SetTranslation when no message with the given ID
// exists.
var ErrNotFound = errors.New("message: not found")

// Message is one displayed unit: original text and, once available, its
// translation.
type Message struct {
	// ID is unique and monotonically increasing within a session.
	ID int64 `json:"id"`

	// Original is the recognized text. It is never empty.
	Original string `json:"original"`

	// Translated is nil until the translation completes. It stays nil when
	// translation fails.
	Translated *string `json:"translated"`

	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives messages from the pipeline. Calls for one session arrive in
// order from a single goroutine; implementations shared across sessions must
// be safe for concurrent use.
type Sink interface {
	// CreateMessage stores a new message with no translation.
	CreateMessage(ctx context.Context, id int64, original string, ts time.Time) error

	// SetTranslation sets the translation of an existing message.
	SetTranslation(ctx context.Context, id int64, translated string) error
}
