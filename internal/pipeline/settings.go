package pipeline

import (
	"time"

	"github.com/MrWong99/interpreta/internal/capture"
	"github.com/MrWong99/interpreta/internal/text"
)

// Strategy selects how transcripts are turned into display units.
type Strategy string

const (
	// StrategyStream accumulates transcripts into sentences and groups
	// them into cards of a fixed sentence count.
	StrategyStream Strategy = "stream"

	// StrategyFragment merges transcripts that arrive close together and
	// splits the merged text by character budget.
	StrategyFragment Strategy = "fragment"
)

// IsValid reports whether s is a known strategy.
func (s Strategy) IsValid() bool {
	return s == StrategyStream || s == StrategyFragment
}

// Settings is the late-bound configuration of a session. The session reads a
// fresh snapshot through its settings function on every poll tick and every
// transcript, so changes apply without a restart.
type Settings struct {
	// Capture drives the voice activity detector.
	Capture capture.Settings

	// Band is the voice frequency band used for the voice ratio.
	Band capture.Band

	// Filter drops meaningless transcripts.
	Filter text.FilterSettings

	Strategy Strategy

	// MergeWindow is the fragment merge window.
	MergeWindow time.Duration

	// AutoTranslateMinChars is the length at which buffered text with a
	// complete sentence is emitted early.
	AutoTranslateMinChars int

	// ChunkMaxChars and ChunkMinChars bound the units produced by the
	// fragment strategy.
	ChunkMaxChars int
	ChunkMinChars int

	// SentencesPerCard is the card size of the stream strategy (1 to 3).
	SentencesPerCard int

	// Stagger spaces out consecutive units split from one text.
	Stagger time.Duration

	// SourceLang is the BCP 47 tag of the spoken language. Empty lets the
	// speech-to-text gateway detect it.
	SourceLang string

	// TargetLang is the BCP 47 tag translations are produced in.
	TargetLang string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Capture: capture.Settings{
			Threshold:        20,
			SilenceDuration:  1500 * time.Millisecond,
			MinRecording:     500 * time.Millisecond,
			MaxRecording:     30 * time.Second,
			RestartDelay:     150 * time.Millisecond,
			EnergyRatioMin:   0.3,
			StabilityMax:     0.3,
			StabilitySamples: 5,
		},
		Band: capture.Band{MinHz: 300, MaxHz: 3400},
		Filter: text.FilterSettings{
			Enabled:   true,
			MinChars:  2,
			Fillers:   text.DefaultFillers,
			Greetings: text.DefaultGreetings,
		},
		Strategy:              StrategyStream,
		MergeWindow:           3 * time.Second,
		AutoTranslateMinChars: 80,
		ChunkMaxChars:         200,
		ChunkMinChars:         40,
		SentencesPerCard:      2,
		Stagger:               300 * time.Millisecond,
		TargetLang:            "en",
	}
}

// Static returns a settings function that always yields s.
func Static(s Settings) func() Settings {
	return func() Settings { return s }
}
