// Package app wires all Interpreta subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithDiscordAPI, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/interpreta/internal/config"
	"github.com/MrWong99/interpreta/internal/health"
	"github.com/MrWong99/interpreta/internal/observe"
	"github.com/MrWong99/interpreta/internal/pipeline"
	"github.com/MrWong99/interpreta/internal/resilience"
	"github.com/MrWong99/interpreta/internal/transcript"
	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/MrWong99/interpreta/pkg/audio/portaudio"
	"github.com/MrWong99/interpreta/pkg/audio/wsmic"
	"github.com/MrWong99/interpreta/pkg/message"
	"github.com/MrWong99/interpreta/pkg/message/discord"
	"github.com/MrWong99/interpreta/pkg/message/postgres"
	"github.com/MrWong99/interpreta/pkg/message/sqlite"
	"github.com/MrWong99/interpreta/pkg/message/wshub"
	"github.com/MrWong99/interpreta/pkg/provider/stt"
	"github.com/MrWong99/interpreta/pkg/provider/translate"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Providers holds the two gateways. Populated by main via the config
// registry.
type Providers struct {
	STT       stt.Provider
	Translate translate.Provider
}

// historyStore is a persistent message store that can list past sessions.
type historyStore interface {
	List(ctx context.Context, sessionID string) ([]message.Message, error)
}

// App owns all subsystem lifetimes.
type App struct {
	live      *config.Live
	level     *slog.LevelVar
	providers *Providers

	metrics  *observe.Metrics
	gatherer prometheus.Gatherer

	// Subsystems, initialised in New and torn down in Shutdown.
	sttGate   *resilience.STT
	trGate    *resilience.Translator
	source    audio.Source
	mic       *wsmic.Source
	hub       *wshub.Hub
	pg        *postgres.Store
	sq        *sqlite.Store
	history   historyStore
	discord   discord.ChannelAPI
	corrector atomic.Pointer[transcript.Corrector]
	sessions  *SessionManager
	health    *health.Handler
	handler   http.Handler

	configPath  string
	watcher     *config.Watcher
	sessionOpts []pipeline.Option

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects an audio source instead of creating one from config.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithDiscordAPI injects the Discord REST client used by the channel sink.
func WithDiscordAPI(api discord.ChannelAPI) Option {
	return func(a *App) { a.discord = api }
}

// WithMetrics sets the metric instruments and the registry served on
// /metrics. Without it the global meter provider is used and /metrics is not
// served.
func WithMetrics(m *observe.Metrics, g prometheus.Gatherer) Option {
	return func(a *App) { a.metrics, a.gatherer = m, g }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables hot reload by polling path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithSessionOptions appends options to every capture session.
func WithSessionOptions(opts ...pipeline.Option) Option {
	return func(a *App) { a.sessionOpts = append(a.sessionOpts, opts...) }
}

// New creates an App by wiring all subsystems together. The providers come
// from main (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.Translate == nil {
		return nil, errors.New("app: stt and translate providers are required")
	}
	a := &App{
		live:      config.NewLive(cfg),
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.initGateways(cfg)

	if err := a.initSource(cfg); err != nil {
		return nil, fmt.Errorf("app: init audio source: %w", err)
	}

	if err := a.initSinks(ctx, cfg); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init sinks: %w", err)
	}

	a.setGlossary(cfg.Glossary)

	a.initHealth()

	a.sessions = NewSessionManager(SessionManagerConfig{
		Source:    a.source,
		STT:       a.sttGate,
		Translate: a.trGate,
		Live:      a.live,
		Sinks:     a.sessionSinks,
		Corrector: a.corrector.Load,
		Metrics:   a.metrics,
		Names:     [2]string{cfg.Providers.STT.Name, cfg.Providers.Translate.Name},
		Options:   a.sessionOpts,
		OnError:   a.sessionError,
	})

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig,
			config.WithInterval(cfg.Server.ConfigPollInterval))
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
	}

	a.handler = observe.Middleware(a.metrics)(a.routes())
	return a, nil
}

// initGateways wraps both providers in circuit breakers.
func (a *App) initGateways(cfg *config.Config) {
	onChange := func(name string, _, to resilience.State) {
		a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}
	newBreaker := func(name string) *resilience.Breaker {
		return resilience.NewBreaker(resilience.BreakerConfig{
			Name:          name,
			MaxFailures:   cfg.Breaker.MaxFailures,
			Cooldown:      cfg.Breaker.Cooldown,
			OnStateChange: onChange,
		})
	}
	a.sttGate = resilience.NewSTT(a.providers.STT, newBreaker("stt:"+cfg.Providers.STT.Name))
	a.trGate = resilience.NewTranslator(a.providers.Translate, newBreaker("translate:"+cfg.Providers.Translate.Name))
}

// initSource creates the configured audio source unless one was injected.
func (a *App) initSource(cfg *config.Config) error {
	if a.source != nil {
		if mic, ok := a.source.(*wsmic.Source); ok {
			a.mic = mic
		}
		return nil
	}
	switch cfg.Audio.Source {
	case config.SourceWebSocket:
		a.mic = wsmic.New(
			wsmic.WithDefaultFormat(audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}),
			wsmic.WithOriginPatterns(cfg.Audio.AllowedOrigins...),
		)
		a.source = a.mic
	case config.SourcePortAudio:
		a.source = portaudio.New(
			portaudio.WithDevice(cfg.Audio.Device),
			portaudio.WithSampleRate(cfg.Audio.SampleRate),
			portaudio.WithFramesPerBuffer(cfg.Audio.FramesPerBuffer),
		)
	default:
		return fmt.Errorf("unknown audio source %q", cfg.Audio.Source)
	}
	slog.Info("audio source configured", "kind", cfg.Audio.Source)
	return nil
}

// initSinks connects the persistent stores and outbound sinks named in cfg.
func (a *App) initSinks(ctx context.Context, cfg *config.Config) error {
	sc := cfg.Sinks
	if sc.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.pg = store
		a.history = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		slog.Info("message sink enabled", "kind", "postgres")
	}
	if sc.SQLitePath != "" {
		store, err := sqlite.Open(sc.SQLitePath)
		if err != nil {
			return err
		}
		a.sq = store
		if a.history == nil {
			a.history = store
		}
		a.closers = append(a.closers, store.Close)
		slog.Info("message sink enabled", "kind", "sqlite", "path", sc.SQLitePath)
	}
	if d := sc.Discord; d != nil && a.discord == nil {
		s, err := discord.NewSession(d.Token)
		if err != nil {
			return err
		}
		a.discord = s
		slog.Info("message sink enabled", "kind", "discord", "channel_id", d.ChannelID)
	}
	if ws := sc.WebSocket; ws != nil {
		a.hub = wshub.New(
			wshub.WithOriginPatterns(ws.AllowedOrigins...),
			wshub.WithHistory(ws.History),
		)
		slog.Info("message sink enabled", "kind", "websocket")
	}
	return nil
}

// sessionSinks returns the per-session views of all configured sinks.
func (a *App) sessionSinks(sessionID string) []message.Sink {
	var sinks []message.Sink
	if a.pg != nil {
		sinks = append(sinks, a.pg.Session(sessionID))
	}
	if a.sq != nil {
		sinks = append(sinks, a.sq.Session(sessionID))
	}
	if a.hub != nil {
		sinks = append(sinks, a.hub.Session(sessionID))
	}
	if d := a.live.Current().Sinks.Discord; d != nil && a.discord != nil {
		sinks = append(sinks, discord.New(discord.Config{
			API:       a.discord,
			ChannelID: d.ChannelID,
			Title:     d.Title,
		}))
	}
	return sinks
}

// sessionError pushes a session failure to the WebSocket clients.
func (a *App) sessionError(sessionID string, e SessionError) {
	if a.hub == nil {
		return
	}
	a.hub.ReportError(sessionID, wshub.Failure{Stage: e.Stage, MessageID: e.MessageID, Error: e.Error})
}

func (a *App) initHealth() {
	var checks []health.Checker
	if a.pg != nil {
		checks = append(checks, health.Ping("postgres", a.pg))
	}
	if a.sq != nil {
		checks = append(checks, health.Ping("sqlite", a.sq))
	}
	checks = append(checks, health.Breaker(a.sttGate.Breaker()), health.Breaker(a.trGate.Breaker()))
	a.health = health.New(checks...)
}

// setGlossary rebuilds the transcript corrector. An empty glossary disables
// correction.
func (a *App) setGlossary(terms []string) {
	if len(terms) == 0 {
		a.corrector.Store(nil)
		return
	}
	c := transcript.New(terms)
	a.corrector.Store(c)
	slog.Info("glossary loaded", "terms", c.Terms())
}

// applyConfig is the watcher callback.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	a.live.Store(new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SettingsChanged {
		slog.Info("pipeline settings reloaded")
	}
	if d.GlossaryChanged {
		a.setGlossary(new.Glossary)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to a slog level. Unknown values map to
// info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handler returns the HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	srvCfg := a.live.Current().Server
	srv := &http.Server{
		Addr:              srvCfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", srvCfg.TLS != nil)
		var err error
		if tls := srvCfg.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops the active session, waiting for its in-flight work, and
// closes all subsystems in reverse-init order. It respects the context
// deadline: if ctx expires, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if _, err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("stopping session", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
