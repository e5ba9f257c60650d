// Package memory provides an in-process message.Sink that keeps every message
// of a session in memory.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/interpreta/pkg/message"
)

var _ message.Sink = (*Store)(nil)

// Store is a message.Sink backed by a map. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	byID  map[int64]*message.Message
	order []int64
	limit int
}

// Option configures a [Store].
type Option func(*Store)

// WithLimit keeps only the most recent n messages. Zero keeps everything.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.limit = n
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{byID: make(map[int64]*message.Message)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateMessage implements message.Sink. Creating an ID twice is an error.
func (s *Store) CreateMessage(_ context.Context, id int64, original string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; ok {
		return fmt.Errorf("memory: message %d already exists", id)
	}
	s.byID[id] = &message.Message{ID: id, Original: original, Timestamp: ts}
	s.order = append(s.order, id)
	if s.limit > 0 && len(s.order) > s.limit {
		drop := len(s.order) - s.limit
		for _, old := range s.order[:drop] {
			delete(s.byID, old)
		}
		s.order = slices.Delete(s.order, 0, drop)
	}
	return nil
}

// SetTranslation implements message.Sink.
func (s *Store) SetTranslation(_ context.Context, id int64, translated string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: message %d: %w", id, message.ErrNotFound)
	}
	m.Translated = &translated
	return nil
}

// Get returns a copy of the message with the given ID.
func (s *Store) Get(id int64) (message.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return message.Message{}, false
	}
	return clone(m), true
}

// Messages returns copies of all stored messages in creation order.
func (s *Store) Messages() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.byID[id]))
	}
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func clone(m *message.Message) message.Message {
	c := *m
	if m.Translated != nil {
		t := *m.Translated
		c.Translated = &t
	}
	return c
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
