// Package mock provides a test double for the message.Sink interface that
// records every call in order.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/interpreta/pkg/message"
)

// Op identifies a sink operation.
type Op string

const (
	OpCreate    Op = "create"
	OpTranslate Op = "translate"
)

// Call records one sink invocation.
type Call struct {
	Op   Op
	ID   int64
	Text string
	At   time.Time
}

// Sink is a mock implementation of message.Sink.
type Sink struct {
	mu sync.Mutex

	// CreateErr, if non-nil, is returned from CreateMessage.
	CreateErr error

	// SetTranslationErr, if non-nil, is returned from SetTranslation.
	SetTranslationErr error

	// Calls records every call in arrival order.
	Calls []Call

	notify chan struct{}
}

// CreateMessage records the call.
func (s *Sink) CreateMessage(_ context.Context, id int64, original string, ts time.Time) error {
	s.record(Call{Op: OpCreate, ID: id, Text: original, At: ts})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CreateErr
}

// SetTranslation records the call.
func (s *Sink) SetTranslation(_ context.Context, id int64, translated string) error {
	s.record(Call{Op: OpTranslate, ID: id, Text: translated})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SetTranslationErr
}

func (s *Sink) record(c Call) {
	s.mu.Lock()
	s.Calls = append(s.Calls, c)
	ch := s.notify
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Notify returns a channel that receives a value after each recorded call.
// Sends never block; a slow reader sees at least one value per burst.
func (s *Sink) Notify() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify == nil {
		s.notify = make(chan struct{}, 1)
	}
	return s.notify
}

// Snapshot returns a copy of the recorded calls.
func (s *Sink) Snapshot() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.Calls))
	copy(out, s.Calls)
	return out
}

// Messages folds the recorded calls into messages in creation order.
func (s *Sink) Messages() []message.Message {
	calls := s.Snapshot()
	var out []message.Message
	idx := map[int64]int{}
	for _, c := range calls {
		switch c.Op {
		case OpCreate:
			idx[c.ID] = len(out)
			out = append(out, message.Message{ID: c.ID, Original: c.Text, Timestamp: c.At})
		case OpTranslate:
			if i, ok := idx[c.ID]; ok {
				t := c.Text
				out[i].Translated = &t
			}
		}
	}
	return out
}

// Reset clears all recorded calls.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}

var _ message.Sink = (*Sink)(nil)
