// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock is safe for concurrent use. Tests push frames with [Source.Push]
// and inspect call counts after the run.
//
// Typical usage:
//
//	src := mock.NewSource()
//	frames, _ := src.Start(ctx)
//	src.Push(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/interpreta/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// StartErr is returned by [Source.Start] when non-nil.
	StartErr error

	// StopErr is returned by [Source.Stop].
	StopErr error

	// CallCountStart and CallCountStop record method invocations.
	CallCountStart int
	CallCountStop  int

	ch     chan audio.Frame
	closed bool
}

// NewSource returns a mock source with a buffered frame channel.
func NewSource() *Source {
	return &Source{ch: make(chan audio.Frame, 1024)}
}

// Start implements [audio.Source]. The channel is closed when ctx is
// cancelled or Stop is called.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	go func() {
		<-ctx.Done()
		_ = s.close()
	}()
	return s.ch, nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	err := s.StopErr
	s.mu.Unlock()
	_ = s.close()
	return err
}

// Push delivers a frame to the consumer. It reports false once the source is
// closed.
func (s *Source) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- f
	return true
}

// Stops returns how many times Stop was called.
func (s *Source) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

func (s *Source) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
