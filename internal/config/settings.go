package config

import (
	"sync/atomic"

	"github.com/MrWong99/interpreta/internal/capture"
	"github.com/MrWong99/interpreta/internal/pipeline"
	"github.com/MrWong99/interpreta/internal/text"
)

// Settings maps the hot-reloadable parts of cfg onto pipeline settings.
func (cfg *Config) Settings() pipeline.Settings {
	c := cfg.Capture
	enabled := cfg.Filter.Enabled == nil || *cfg.Filter.Enabled
	return pipeline.Settings{
		Capture: capture.Settings{
			Threshold:        c.Threshold,
			SilenceDuration:  c.SilenceDuration,
			MinRecording:     c.MinRecording,
			MaxRecording:     c.MaxRecording,
			RestartDelay:     c.RestartDelay,
			EnergyRatioMin:   c.EnergyRatioMin,
			StabilityMax:     c.StabilityMax,
			StabilitySamples: c.StabilitySamples,
		},
		Band: capture.Band{MinHz: c.VoiceFreqMin, MaxHz: c.VoiceFreqMax},
		Filter: text.FilterSettings{
			Enabled:        enabled,
			MinChars:       cfg.Filter.MinChars,
			Fillers:        cfg.Filter.FillerWords,
			Greetings:      cfg.Filter.ShortGreetings,
			ClearFragments: cfg.Filter.ClearFragmentsOnFiller,
		},
		Strategy:              pipeline.Strategy(cfg.Text.Strategy),
		MergeWindow:           cfg.Text.MergeWindow,
		AutoTranslateMinChars: cfg.Text.AutoTranslateMinChars,
		ChunkMaxChars:         cfg.Text.ChunkMaxChars,
		ChunkMinChars:         cfg.Text.ChunkMinChars,
		SentencesPerCard:      cfg.Text.SentencesPerCard,
		Stagger:               cfg.Text.Stagger,
		SourceLang:            cfg.Languages.Source,
		TargetLang:            cfg.Languages.Target,
	}
}

// Live holds the current configuration and hands out settings snapshots to
// running sessions. It is safe for concurrent use.
type Live struct {
	cur atomic.Pointer[Config]
}

// NewLive returns a Live holding cfg.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.cur.Store(cfg)
	return l
}

// Store replaces the current configuration.
func (l *Live) Store(cfg *Config) { l.cur.Store(cfg) }

// Current returns the current configuration.
func (l *Live) Current() *Config { return l.cur.Load() }

// Settings returns a fresh settings snapshot. It has the signature
// pipeline.New expects for its settings function.
func (l *Live) Settings() pipeline.Settings {
	return l.cur.Load().Settings()
}
