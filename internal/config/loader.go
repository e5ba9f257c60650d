package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/interpreta/internal/pipeline"
	"github.com/MrWong99/interpreta/internal/text"
)

// ValidProviderNames lists the known provider names per gateway kind.
// [Validate] warns about names not in this list.
var ValidProviderNames = map[string][]string{
	"stt":       {"whisper", "whisper-native", "openai"},
	"translate": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	def := pipeline.DefaultSettings()

	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ConfigPollInterval, 5*time.Second)

	setDefault(&cfg.Audio.Source, SourcePortAudio)
	setDefault(&cfg.Audio.SampleRate, 16000)
	setDefault(&cfg.Audio.PollInterval, 100*time.Millisecond)

	setDefault(&cfg.Languages.Target, def.TargetLang)

	c := &cfg.Capture
	setDefault(&c.Threshold, def.Capture.Threshold)
	setDefault(&c.SilenceDuration, def.Capture.SilenceDuration)
	setDefault(&c.MinRecording, def.Capture.MinRecording)
	setDefault(&c.MaxRecording, def.Capture.MaxRecording)
	setDefault(&c.RestartDelay, def.Capture.RestartDelay)
	setDefault(&c.VoiceFreqMin, def.Band.MinHz)
	setDefault(&c.VoiceFreqMax, def.Band.MaxHz)
	setDefault(&c.EnergyRatioMin, def.Capture.EnergyRatioMin)
	setDefault(&c.StabilityMax, def.Capture.StabilityMax)
	setDefault(&c.StabilitySamples, def.Capture.StabilitySamples)

	setDefault(&cfg.Validation.MinRMS, 0.01)
	setDefault(&cfg.Validation.MinAmplitude, 0.005)
	setDefault(&cfg.Validation.FallbackSampleRate, 16000)

	t := &cfg.Text
	setDefault(&t.Strategy, string(def.Strategy))
	setDefault(&t.MergeWindow, def.MergeWindow)
	setDefault(&t.AutoTranslateMinChars, def.AutoTranslateMinChars)
	setDefault(&t.ChunkMaxChars, def.ChunkMaxChars)
	setDefault(&t.ChunkMinChars, def.ChunkMinChars)
	setDefault(&t.SentencesPerCard, def.SentencesPerCard)
	setDefault(&t.Stagger, def.Stagger)
	setDefault(&t.DedupWindow, text.DefaultDedupCapacity)

	f := &cfg.Filter
	if f.Enabled == nil {
		f.Enabled = new(bool)
		*f.Enabled = def.Filter.Enabled
	}
	setDefault(&f.MinChars, def.Filter.MinChars)
	if f.FillerWords == nil {
		f.FillerWords = slices.Clone(text.DefaultFillers)
	}
	if f.ShortGreetings == nil {
		f.ShortGreetings = slices.Clone(text.DefaultGreetings)
	}

	setDefault(&cfg.Breaker.MaxFailures, 5)
	setDefault(&cfg.Breaker.Cooldown, 30*time.Second)

	setDefault(&cfg.Sinks.MemoryLimit, 500)
	if ws := cfg.Sinks.WebSocket; ws != nil {
		setDefault(&ws.History, 50)
	}
	if d := cfg.Sinks.Discord; d != nil {
		setDefault(&d.Title, "Interpreta")
	}
}

func setDefault[T comparable](p *T, v T) {
	var zero T
	if *p == zero {
		*p = v
	}
}

// Validate checks that cfg is coherent. It returns all failures joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Audio.Source != "" && !cfg.Audio.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: portaudio, websocket", cfg.Audio.Source))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}

	c := cfg.Capture
	if c.Threshold < 0 || c.Threshold > 255 {
		errs = append(errs, fmt.Errorf("capture.threshold %.1f is out of range [0, 255]", c.Threshold))
	}
	if c.MaxRecording > 0 && c.MinRecording > c.MaxRecording {
		errs = append(errs, fmt.Errorf("capture.min_recording %v exceeds max_recording %v", c.MinRecording, c.MaxRecording))
	}
	if c.VoiceFreqMax > 0 && c.VoiceFreqMin >= c.VoiceFreqMax {
		errs = append(errs, fmt.Errorf("capture.voice_freq_min %.0f must be below voice_freq_max %.0f", c.VoiceFreqMin, c.VoiceFreqMax))
	}
	if c.EnergyRatioMin < 0 || c.EnergyRatioMin > 1 {
		errs = append(errs, fmt.Errorf("capture.energy_ratio_min %.2f is out of range [0, 1]", c.EnergyRatioMin))
	}
	if c.StabilitySamples < 0 {
		errs = append(errs, fmt.Errorf("capture.stability_samples %d must not be negative", c.StabilitySamples))
	}

	if cfg.Validation.MinRMS < 0 || cfg.Validation.MinAmplitude < 0 {
		errs = append(errs, errors.New("validation thresholds must not be negative"))
	}

	t := cfg.Text
	if t.Strategy != "" && !pipeline.Strategy(t.Strategy).IsValid() {
		errs = append(errs, fmt.Errorf("text.strategy %q is invalid; valid values: stream, fragment", t.Strategy))
	}
	if t.SentencesPerCard != 0 && (t.SentencesPerCard < text.MinSentencesPerCard || t.SentencesPerCard > text.MaxSentencesPerCard) {
		errs = append(errs, fmt.Errorf("text.sentences_per_card %d is out of range [%d, %d]",
			t.SentencesPerCard, text.MinSentencesPerCard, text.MaxSentencesPerCard))
	}
	if t.ChunkMaxChars > 0 && t.ChunkMinChars > t.ChunkMaxChars {
		errs = append(errs, fmt.Errorf("text.chunk_min_chars %d exceeds chunk_max_chars %d", t.ChunkMinChars, t.ChunkMaxChars))
	}

	if cfg.Languages.Target == "" {
		slog.Warn("languages.target is empty; translations will use the provider default")
	}
	if cfg.Languages.Source != "" && cfg.Languages.Source == cfg.Languages.Target {
		slog.Warn("languages.source equals languages.target", "lang", cfg.Languages.Source)
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.Translate.Name == "" {
		errs = append(errs, errors.New("providers.translate.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("translate", cfg.Providers.Translate.Name)

	if d := cfg.Sinks.Discord; d != nil && d.ChannelID == "" {
		errs = append(errs, errors.New("sinks.discord.channel_id is required"))
	}

	for i, term := range cfg.Glossary {
		if term == "" {
			errs = append(errs, fmt.Errorf("glossary[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is set but unknown for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
