package segment

import (
	"errors"
	"math"
	"time"

	"github.com/MrWong99/interpreta/pkg/audio"
	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultMinRMS is the RMS (on samples normalised to [-1, 1]) below which
	// a segment is treated as silence.
	DefaultMinRMS = 0.01

	// DefaultMinAmplitude is the mean absolute amplitude below which a
	// segment is treated as silence.
	DefaultMinAmplitude = 0.005

	// DefaultFallbackRate is the sample rate assumed when a segment has to be
	// decoded as raw PCM.
	DefaultFallbackRate = 16000
)

// Result is the outcome of validating one segment.
type Result struct {
	// Valid is false when the segment could not be decoded or holds no
	// samples.
	Valid bool

	// EnoughEnergy is true when both RMS and AvgAmplitude reach the
	// configured minimums.
	EnoughEnergy bool

	RMS          float64
	AvgAmplitude float64
	DurationSec  float64

	// Fallback is true when the segment was decoded as raw PCM.
	Fallback bool

	// Samples holds the decoded mono samples at Format.SampleRate.
	Samples []float32
	Format  audio.Format
}

// Transcribable reports whether the segment should be sent for transcription.
func (r Result) Transcribable() bool {
	return r.Valid && r.EnoughEnergy
}

// Option is a functional option for configuring a Validator.
type Option func(*Validator)

// WithMinRMS overrides [DefaultMinRMS].
func WithMinRMS(v float64) Option {
	return func(val *Validator) {
		val.minRMS = v
	}
}

// WithMinAmplitude overrides [DefaultMinAmplitude].
func WithMinAmplitude(v float64) Option {
	return func(val *Validator) {
		val.minAmplitude = v
	}
}

// WithFallbackRate overrides [DefaultFallbackRate].
func WithFallbackRate(rate int) Option {
	return func(val *Validator) {
		if rate > 0 {
			val.fallbackRate = rate
		}
	}
}

// Validator decodes segments and measures their energy. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	minRMS       float64
	minAmplitude float64
	fallbackRate int
}

// NewValidator returns a Validator with default thresholds.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		minRMS:       DefaultMinRMS,
		minAmplitude: DefaultMinAmplitude,
		fallbackRate: DefaultFallbackRate,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate decodes seg to mono samples and computes its energy. When the
// container cannot be decoded, the bytes are decoded again from scratch as
// raw 16-bit PCM at the fallback rate.
func (v *Validator) Validate(seg audio.Segment) Result {
	samples, f, err := audio.DecodeWAV(seg.Data)
	fallback := false
	if err != nil {
		samples, f, err = v.decodeRaw(seg.Data)
		fallback = true
	}
	if err != nil || len(samples) == 0 || f.SampleRate <= 0 {
		return Result{Fallback: fallback}
	}

	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}
	n := float64(len(x))
	res := Result{
		Valid:        true,
		RMS:          floats.Norm(x, 2) / math.Sqrt(n),
		AvgAmplitude: floats.Norm(x, 1) / n,
		DurationSec:  (time.Duration(len(samples)) * time.Second / time.Duration(f.SampleRate)).Seconds(),
		Fallback:     fallback,
		Samples:      samples,
		Format:       f,
	}
	res.EnoughEnergy = res.RMS >= v.minRMS && res.AvgAmplitude >= v.minAmplitude
	return res
}

// errMisaligned marks raw data that cannot be 16-bit PCM.
var errMisaligned = errors.New("segment: raw pcm is misaligned")

// decodeRaw reads data as mono 16-bit PCM at the fallback rate, skipping a
// canonical 44-byte RIFF header when one is present.
func (v *Validator) decodeRaw(data []byte) ([]float32, audio.Format, error) {
	if len(data) >= 44 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		data = data[44:]
	}
	if len(data) < 2 || len(data)%2 != 0 {
		return nil, audio.Format{}, errMisaligned
	}
	return audio.PCMToFloat32(data), audio.Format{SampleRate: v.fallbackRate, Channels: 1}, nil
}
