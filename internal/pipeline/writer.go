package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/interpreta/pkg/message"
)

type opKind int

const (
	opCreate opKind = iota
	opTranslate
)

type sinkOp struct {
	kind opKind
	id   int64
	text string
	at   time.Time

	// notBefore delays a create so split units reach the sink staggered.
	notBefore time.Time
}

// writer applies sink operations strictly in the order they were queued.
// The queue is unbounded so the coordinator never blocks on a slow sink.
type writer struct {
	sink    message.Sink
	onDone  func(sinkOp, error)
	sleepFn func(context.Context, time.Duration)

	mu     sync.Mutex
	queue  []sinkOp
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newWriter(sink message.Sink, onDone func(sinkOp, error)) *writer {
	return &writer{
		sink:    sink,
		onDone:  onDone,
		sleepFn: sleep,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (w *writer) enqueue(op sinkOp) {
	w.mu.Lock()
	w.queue = append(w.queue, op)
	w.mu.Unlock()
	w.signal()
}

// close lets the writer drain the queue and exit.
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// run applies queued operations until closed and drained. Sink calls use ctx,
// which must outlive the session's own cancellation.
func (w *writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		op := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if d := time.Until(op.notBefore); d > 0 {
			w.sleepFn(ctx, d)
		}

		var err error
		switch op.kind {
		case opCreate:
			err = w.sink.CreateMessage(ctx, op.id, op.text, op.at)
		case opTranslate:
			err = w.sink.SetTranslation(ctx, op.id, op.text)
		}
		if w.onDone != nil {
			w.onDone(op, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
