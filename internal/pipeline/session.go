// Package pipeline runs a capture session: it turns live microphone audio
// into transcribed, translated messages.
//
// A [Session] owns one coordinator goroutine that holds all mutable session
// state (detector, analyzer, recorder, text buffers, message counter) and
// selects over audio frames, the poll ticker, segment results, translation
// results and stop. Gateway calls run in their own goroutines and report back
// through channels, so capture never waits for transcription or translation.
//
// Ordering: units reach the sink in the order their audio was captured.
// Translations may complete in any order; each one is addressed by message
// id. Nothing is retried and nothing in flight is cancelled on stop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/interpreta/internal/capture"
	"github.com/MrWong99/interpreta/internal/observe"
	"github.com/MrWong99/interpreta/internal/segment"
	"github.com/MrWong99/interpreta/internal/text"
	"github.com/MrWong99/interpreta/internal/transcript"
	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/MrWong99/interpreta/pkg/message"
	"github.com/MrWong99/interpreta/pkg/provider"
	"github.com/MrWong99/interpreta/pkg/provider/stt"
	"github.com/MrWong99/interpreta/pkg/provider/translate"
)

// DefaultPollInterval is the detector polling period.
const DefaultPollInterval = 100 * time.Millisecond

// Option configures a [Session].
type Option func(*Session)

// WithID sets the session id used in logs.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithFormat sets the format audio is converted to before analysis and
// recording. Default: 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(s *Session) { s.format = f }
}

// WithPollInterval sets the detector polling period.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithTicker replaces the internal poll ticker with ticks. Each received time
// is used as the timestamp of one detector step.
func WithTicker(ticks <-chan time.Time) Option {
	return func(s *Session) { s.ticks = ticks }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithValidator sets the segment validator.
func WithValidator(v *segment.Validator) Option {
	return func(s *Session) { s.validator = v }
}

// WithCorrector enables glossary correction of transcripts.
func WithCorrector(c *transcript.Corrector) Option {
	return func(s *Session) { s.corrector = c }
}

// WithDedupWindow sets the number of recent sentences checked for repeats.
func WithDedupWindow(n int) Option {
	return func(s *Session) { s.dedupWindow = n }
}

// WithAnalyzerOptions passes options to the signal analyzer.
func WithAnalyzerOptions(opts ...capture.AnalyzerOption) Option {
	return func(s *Session) { s.analyzerOpts = append(s.analyzerOpts, opts...) }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithProviderNames sets the gateway labels used in metrics and spans.
func WithProviderNames(sttName, translateName string) Option {
	return func(s *Session) { s.sttName, s.trName = sttName, translateName }
}

// WithErrorHandler is called once for every [*Error]. It may be called from
// several goroutines.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Session) { s.onError = fn }
}

// Session is one capture session. Create it with [New] and drive it with
// [Session.Run].
type Session struct {
	id           string
	src          audio.Source
	stt          stt.Provider
	tr           translate.Provider
	sink         message.Sink
	settings     func() Settings
	format       audio.Format
	poll         time.Duration
	ticks        <-chan time.Time
	now          func() time.Time
	validator    *segment.Validator
	corrector    *transcript.Corrector
	dedupWindow  int
	analyzerOpts []capture.AnalyzerOption
	metrics      *observe.Metrics
	sttName      string
	trName       string
	onError      func(error)
	log          *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	ran      atomic.Bool
	state    atomic.Int32
}

// New validates the gateways and returns a session. It fails with an error
// wrapping provider.ErrMissingCredential when a gateway or sink lacks its
// credential, before any audio is touched.
func New(src audio.Source, sttP stt.Provider, trP translate.Provider, sink message.Sink, settings func() Settings, opts ...Option) (*Session, error) {
	if src == nil || sttP == nil || trP == nil || sink == nil || settings == nil {
		return nil, errors.New("pipeline: source, gateways, sink and settings are required")
	}
	for _, c := range []struct {
		name string
		v    any
	}{{"stt", sttP}, {"translate", trP}, {"sink", sink}} {
		if err := provider.CheckCredentials(c.name, c.v); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	s := &Session{
		src:         src,
		stt:         sttP,
		tr:          trP,
		sink:        sink,
		settings:    settings,
		format:      audio.Format{SampleRate: 16000, Channels: 1},
		poll:        DefaultPollInterval,
		now:         time.Now,
		dedupWindow: text.DefaultDedupCapacity,
		sttName:     "stt",
		trName:      "translate",
		stop:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.validator == nil {
		s.validator = segment.NewValidator()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.log = slog.With("session", s.id)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current capture state. Safe to call from any goroutine.
func (s *Session) State() capture.State {
	return capture.State(s.state.Load())
}

// Stop asks Run to finish. It returns immediately; Run returns once all
// in-flight work has completed.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run captures until ctx is cancelled, Stop is called or the source ends,
// then finishes the active recording, waits for in-flight transcriptions,
// flushes buffered text, waits for translations and sink writes, and
// returns. Gateway and sink calls are not cancelled by ctx.
func (s *Session) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrStopped
	}

	srcCtx, cancelSrc := context.WithCancel(ctx)
	defer cancelSrc()
	frames, err := s.src.Start(srcCtx)
	if err != nil {
		return fmt.Errorf("pipeline: start source: %w", err)
	}

	ticks := s.ticks
	if ticks == nil {
		t := time.NewTicker(s.poll)
		defer t.Stop()
		ticks = t.C
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	c := newCoordinator(s, context.WithoutCancel(ctx))
	go c.out.run(c.ctx)

	s.log.Info("session started", "format", s.format.String())
	c.begin(s.now())
	c.loop(ctx, frames, ticks)

	c.shutdown()
	cancelSrc()
	if err := s.src.Stop(); err != nil {
		s.log.Warn("stopping audio source", "err", err)
	}
	c.drain()
	s.state.Store(int32(capture.StateIdle))
	s.log.Info("session stopped", "messages", c.nextID)
	return nil
}

func (s *Session) report(ctx context.Context, e *Error) {
	observe.Logger(ctx).Warn("pipeline error", "session", s.id, "stage", e.Stage, "err", e.Err)
	if s.onError != nil {
		s.onError(e)
	}
}
