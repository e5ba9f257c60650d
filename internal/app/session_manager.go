package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/interpreta/internal/config"
	"github.com/MrWong99/interpreta/internal/observe"
	"github.com/MrWong99/interpreta/internal/pipeline"
	"github.com/MrWong99/interpreta/internal/segment"
	"github.com/MrWong99/interpreta/internal/transcript"
	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/MrWong99/interpreta/pkg/message"
	"github.com/MrWong99/interpreta/pkg/message/memory"
	"github.com/MrWong99/interpreta/pkg/provider"
	"github.com/MrWong99/interpreta/pkg/provider/stt"
	"github.com/MrWong99/interpreta/pkg/provider/translate"
)

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by Stop when no session is running.
	ErrNoSession = errors.New("app: no active session")
)

// SessionInfo holds metadata about a capture session.
type SessionInfo struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Active    bool      `json:"active"`

	// State is the capture state (idle, listening, recording).
	State string `json:"state"`

	// Messages is the number of messages kept in memory for the session.
	Messages int `json:"messages"`

	// Errors counts the pipeline errors of the session; LastError is the
	// most recent one.
	Errors    int           `json:"errors"`
	LastError *SessionError `json:"last_error,omitempty"`
}

// SessionError is a pipeline failure as shown to users.
type SessionError struct {
	Stage     string    `json:"stage"`
	MessageID int64     `json:"message_id,omitempty"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Source    audio.Source
	STT       stt.Provider
	Translate translate.Provider
	Live      *config.Live

	// Sinks returns the extra sinks for a new session. The in-memory store
	// is always added.
	Sinks func(sessionID string) []message.Sink

	// Corrector returns the current glossary corrector, or nil.
	Corrector func() *transcript.Corrector

	Metrics *observe.Metrics

	// Names are the stt and translate provider names used as labels.
	Names [2]string

	// Options are appended to every session.
	Options []pipeline.Option

	// NewID generates session ids. Default: uuid.NewString.
	NewID func() string

	// OnError is called with every pipeline error of a session, after it has
	// been recorded in the session info. It may be called concurrently.
	OnError func(sessionID string, e SessionError)
}

// SessionManager manages the lifecycle of capture sessions. Only one session
// can be active at a time. The messages of the most recent session stay
// available after it stops. All exported methods are safe for concurrent
// use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu     sync.Mutex
	sess   *pipeline.Session
	info   SessionInfo
	store  *memory.Store
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionManager returns an idle manager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &SessionManager{cfg: cfg}
}

// Start creates a session from the current configuration and runs it in the
// background. The session outlives ctx; use Stop to end it.
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.sess != nil {
		return SessionInfo{}, fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.info.ID)
	}

	cfg := sm.cfg.Live.Current()
	id := sm.cfg.NewID()

	store := memory.New(memory.WithLimit(cfg.Sinks.MemoryLimit))
	sinks := []message.Sink{store}
	if sm.cfg.Sinks != nil {
		sinks = append(sinks, sm.cfg.Sinks(id)...)
	}
	for _, s := range sinks {
		if err := provider.CheckCredentials("sink", s); err != nil {
			return SessionInfo{}, fmt.Errorf("app: start session: %w", err)
		}
	}

	opts := []pipeline.Option{
		pipeline.WithID(id),
		pipeline.WithFormat(audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}),
		pipeline.WithPollInterval(cfg.Audio.PollInterval),
		pipeline.WithValidator(segment.NewValidator(
			segment.WithMinRMS(cfg.Validation.MinRMS),
			segment.WithMinAmplitude(cfg.Validation.MinAmplitude),
			segment.WithFallbackRate(cfg.Validation.FallbackSampleRate),
		)),
		pipeline.WithDedupWindow(cfg.Text.DedupWindow),
		pipeline.WithProviderNames(sm.cfg.Names[0], sm.cfg.Names[1]),
	}
	if sm.cfg.Metrics != nil {
		opts = append(opts, pipeline.WithMetrics(sm.cfg.Metrics))
	}
	if sm.cfg.Corrector != nil {
		if c := sm.cfg.Corrector(); c != nil {
			opts = append(opts, pipeline.WithCorrector(c))
		}
	}
	opts = append(opts, sm.cfg.Options...)
	opts = append(opts, pipeline.WithErrorHandler(func(err error) { sm.recordError(id, err) }))

	sess, err := pipeline.New(sm.cfg.Source, sm.cfg.STT, sm.cfg.Translate,
		message.Multi(sinks...), sm.cfg.Live.Settings, opts...)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: start session: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	sm.sess, sm.store, sm.cancel, sm.done = sess, store, cancel, done
	sm.info = SessionInfo{ID: id, StartedAt: time.Now().UTC()}

	go func() {
		defer close(done)
		if err := sess.Run(runCtx); err != nil {
			slog.Error("session failed", "session_id", id, "err", err)
		}
		sm.finished(sess)
	}()

	slog.Info("session started", "session_id", id)
	return sm.infoLocked(), nil
}

// finished clears the active session once its Run has returned.
func (sm *SessionManager) finished(sess *pipeline.Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.sess != sess {
		return
	}
	sm.sess = nil
	sm.cancel()
	slog.Info("session ended", "session_id", sm.info.ID, "messages", sm.store.Len())
}

// recordError keeps err as the last error of session id and forwards it to
// OnError.
func (sm *SessionManager) recordError(id string, err error) {
	e := SessionError{Error: err.Error(), At: time.Now().UTC()}
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		e.Stage = string(perr.Stage)
		e.MessageID = perr.MessageID
		if perr.Err != nil {
			e.Error = perr.Err.Error()
		}
	}

	sm.mu.Lock()
	if sm.info.ID != id {
		sm.mu.Unlock()
		return
	}
	sm.info.Errors++
	sm.info.LastError = &e
	sm.mu.Unlock()

	if sm.cfg.OnError != nil {
		sm.cfg.OnError(id, e)
	}
}

// Stop ends the active session and waits until all of its in-flight
// transcriptions, translations and sink writes have completed, or ctx
// expires.
func (sm *SessionManager) Stop(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	sess, done := sm.sess, sm.done
	sm.mu.Unlock()
	if sess == nil {
		return SessionInfo{}, ErrNoSession
	}

	sess.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		return sm.Info(), fmt.Errorf("app: stop session: %w", ctx.Err())
	}
	return sm.Info(), nil
}

// Info returns the active session, or the most recent one.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.infoLocked()
}

func (sm *SessionManager) infoLocked() SessionInfo {
	info := sm.info
	info.State = "idle"
	if sm.sess != nil {
		info.Active = true
		info.State = sm.sess.State().String()
	}
	if sm.store != nil {
		info.Messages = sm.store.Len()
	}
	return info
}

// Messages returns the in-memory messages of the active or most recent
// session in creation order.
func (sm *SessionManager) Messages() []message.Message {
	sm.mu.Lock()
	store := sm.store
	sm.mu.Unlock()
	if store == nil {
		return []message.Message{}
	}
	return store.Messages()
}

// IsActive reports whether a session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sess != nil
}
