// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry of interpreta.
package config

import (
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioSourceKind selects where microphone audio comes from.
type AudioSourceKind string

const (
	// SourcePortAudio captures a local input device.
	SourcePortAudio AudioSourceKind = "portaudio"

	// SourceWebSocket receives audio from a browser on /ws/mic.
	SourceWebSocket AudioSourceKind = "websocket"
)

// IsValid reports whether k is a recognised source kind.
func (k AudioSourceKind) IsValid() bool {
	return k == SourcePortAudio || k == SourceWebSocket
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file with [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Languages  LanguagesConfig  `yaml:"languages"`
	Capture    CaptureConfig    `yaml:"capture"`
	Validation ValidationConfig `yaml:"validation"`
	Text       TextConfig       `yaml:"text"`
	Filter     FilterConfig     `yaml:"filter"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Sinks      SinksConfig      `yaml:"sinks"`

	// Glossary lists domain terms that transcripts are phonetically
	// corrected towards.
	Glossary []string `yaml:"glossary"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// ConfigPollInterval is how often the config file is checked for
	// changes. Default: 5s.
	ConfigPollInterval time.Duration `yaml:"config_poll_interval"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig selects and tunes the capture device.
type AudioConfig struct {
	Source AudioSourceKind `yaml:"source"`

	// Device is a case-insensitive substring of the PortAudio input device
	// name. Empty selects the default input.
	Device string `yaml:"device"`

	// SampleRate is the rate audio is analysed and recorded at. Default:
	// 16000.
	SampleRate int `yaml:"sample_rate"`

	// FramesPerBuffer is the PortAudio buffer size in samples.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// PollInterval is the detector polling period. Default: 100ms.
	PollInterval time.Duration `yaml:"poll_interval"`

	// AllowedOrigins lists origin patterns accepted on /ws/mic.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LanguagesConfig holds BCP 47 language tags.
type LanguagesConfig struct {
	// Source is the spoken language. Empty means auto-detect.
	Source string `yaml:"source"`

	// Target is the translation language.
	Target string `yaml:"target"`
}

// CaptureConfig tunes the voice activity detector.
type CaptureConfig struct {
	Threshold        float64       `yaml:"threshold"`
	SilenceDuration  time.Duration `yaml:"silence_duration"`
	MinRecording     time.Duration `yaml:"min_recording"`
	MaxRecording     time.Duration `yaml:"max_recording"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	VoiceFreqMin     float64       `yaml:"voice_freq_min"`
	VoiceFreqMax     float64       `yaml:"voice_freq_max"`
	EnergyRatioMin   float64       `yaml:"energy_ratio_min"`
	StabilityMax     float64       `yaml:"stability_max"`
	StabilitySamples int           `yaml:"stability_samples"`
}

// ValidationConfig tunes the segment validator.
type ValidationConfig struct {
	MinRMS             float64 `yaml:"min_rms"`
	MinAmplitude       float64 `yaml:"min_amplitude"`
	FallbackSampleRate int     `yaml:"fallback_sample_rate"`
}

// TextConfig tunes sentence accumulation and grouping.
type TextConfig struct {
	// Strategy is "stream" (default) or "fragment".
	Strategy              string        `yaml:"strategy"`
	MergeWindow           time.Duration `yaml:"merge_window"`
	AutoTranslateMinChars int           `yaml:"auto_translate_min_chars"`
	ChunkMaxChars         int           `yaml:"chunk_max_chars"`
	ChunkMinChars         int           `yaml:"chunk_min_chars"`
	SentencesPerCard      int           `yaml:"sentences_per_card"`
	Stagger               time.Duration `yaml:"stagger"`

	// DedupWindow is the number of recent sentences checked for repeats.
	// Default: 5.
	DedupWindow int `yaml:"dedup_window"`
}

// FilterConfig tunes the meaningless-text filter. Nil toggles take their
// defaults.
type FilterConfig struct {
	Enabled                *bool    `yaml:"enabled"`
	MinChars               int      `yaml:"min_chars"`
	FillerWords            []string `yaml:"filler_words"`
	ShortGreetings         []string `yaml:"short_greetings"`
	ClearFragmentsOnFiller bool     `yaml:"clear_fragments_on_filler"`
}

// ProvidersConfig selects the gateway implementations.
type ProvidersConfig struct {
	STT       ProviderEntry `yaml:"stt"`
	Translate ProviderEntry `yaml:"translate"`
}

// ProviderEntry is the configuration block shared by all gateways. Name
// selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider (e.g. "whisper", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted APIs.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For the whisper
	// provider it is the whisper.cpp server URL.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider. For whisper-native it is
	// the path to the ggml model file.
	Model string `yaml:"model"`

	// Timeout bounds a single gateway call.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig tunes the circuit breaker around each gateway.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// SinksConfig lists where messages are delivered. Every configured sink
// receives every message.
type SinksConfig struct {
	// PostgresDSN enables the PostgreSQL store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// SQLitePath enables the SQLite store (":memory:" for in-process).
	SQLitePath string `yaml:"sqlite_path"`

	Discord   *DiscordSinkConfig   `yaml:"discord"`
	WebSocket *WebSocketSinkConfig `yaml:"websocket"`

	// MemoryLimit caps the in-process message history served on
	// /api/messages. Default: 500.
	MemoryLimit int `yaml:"memory_limit"`
}

// DiscordSinkConfig posts messages to a Discord channel.
type DiscordSinkConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
	Title     string `yaml:"title"`
}

// WebSocketSinkConfig broadcasts message events on /ws/events.
type WebSocketSinkConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`

	// History is the number of messages replayed to new clients.
	History int `yaml:"history"`
}
