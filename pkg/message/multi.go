package message

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// multi fans every call out to several sinks concurrently.
type multi []Sink

// Multi returns a Sink that forwards each call to all sinks in parallel and
// returns the first error. A failing sink does not stop the others.
func Multi(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return multi(sinks)
}

// CreateMessage implements [Sink].
func (m multi) CreateMessage(ctx context.Context, id int64, original string, ts time.Time) error {
	var g errgroup.Group
	for _, s := range m {
		g.Go(func() error { return s.CreateMessage(ctx, id, original, ts) })
	}
	return g.Wait()
}

// SetTranslation implements [Sink].
func (m multi) SetTranslation(ctx context.Context, id int64, translated string) error {
	var g errgroup.Group
	for _, s := range m {
		g.Go(func() error { return s.SetTranslation(ctx, id, translated) })
	}
	return g.Wait()
}
