// Package resilience guards the remote gateways of a session.
//
// A [Breaker] counts consecutive gateway failures. Once the limit is reached
// it opens and rejects calls with [ErrCircuitOpen] until a cool-down has
// passed, after which a few probe calls decide whether it closes again. The
// breaker never retries: a rejected or failed call is reported once and the
// pipeline moves on. [STT] and [Translator] wrap the provider interfaces with
// a Breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cool-down has elapsed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the tuning of a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration

	// HalfOpenProbes is the number of successful probes needed to close the
	// breaker again. Default: 1.
	HalfOpenProbes int

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name     string
	maxFails int
	cooldown time.Duration
	probes   int
	onChange func(string, State, State)
	now      func() time.Time

	mu        sync.Mutex
	state     State
	fails     int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{
		name:     cfg.Name,
		maxFails: cfg.MaxFailures,
		cooldown: cfg.Cooldown,
		probes:   cfg.HalfOpenProbes,
		onChange: cfg.OnStateChange,
		now:      cfg.Now,
	}
	if b.maxFails <= 0 {
		b.maxFails = 5
	}
	if b.cooldown <= 0 {
		b.cooldown = 30 * time.Second
	}
	if b.probes <= 0 {
		b.probes = 1
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker is open. Errors caused by the caller's own
// context being cancelled do not count as failures.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	failed := err != nil && !(ctx.Err() != nil && errors.Is(err, ctx.Err()))
	b.settle(probe, err != nil, failed)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.inFlight, b.successes = 0, 0
	}
	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.probes {
			b.mu.Unlock()
			b.notify(changed, from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		b.inFlight++
		probe = true
	}
	b.mu.Unlock()
	b.notify(changed, from, StateHalfOpen)
	return probe, nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(probe, errored, failed bool) {
	b.mu.Lock()
	from := b.state
	switch {
	case probe && failed:
		b.trip()
	case probe && errored:
		// Cancelled probe: give the slot back.
		b.inFlight--
	case probe:
		b.successes++
		if b.successes >= b.probes {
			b.state = StateClosed
			b.fails = 0
		}
	case failed:
		b.fails++
		if b.state == StateClosed && b.fails >= b.maxFails {
			b.trip()
		}
	case !errored:
		b.fails = 0
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from != to, from, to)
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.fails = 0
}

func (b *Breaker) notify(changed bool, from, to State) {
	if !changed {
		return
	}
	slog.Info("circuit breaker state changed", "name", b.name, "from", from, "to", to)
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.fails, b.inFlight, b.successes = 0, 0, 0
	b.mu.Unlock()
	b.notify(from != StateClosed, from, StateClosed)
}
