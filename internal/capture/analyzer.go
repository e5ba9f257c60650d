// Package capture turns a live microphone stream into voice activity
// decisions.
//
// The [Analyzer] keeps the most recent window of PCM samples and reduces it to
// a [Sample] of scalar features: average spectral energy and the share of that
// energy inside the human voice band. The [Detector] is a finite-state machine
// that consumes one Sample per poll interval and decides when a recording
// starts and when it is finalized.
//
// Neither type is safe for concurrent use. Both are owned by a single session
// coordinator.
package capture

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// DefaultFFTSize is the analysis window length in samples.
	DefaultFFTSize = 2048

	// DefaultSmoothing is the time constant applied to magnitudes between
	// successive analyses (0 disables smoothing).
	DefaultSmoothing = 0.8

	minDecibels = -100.0
	maxDecibels = -30.0
)

// Sample is the feature vector produced by one analysis pass.
type Sample struct {
	// Energy is the mean per-bin magnitude on a 0–255 scale.
	Energy float64

	// VoiceRatio is the fraction of total bin magnitude inside the configured
	// voice band (0–1).
	VoiceRatio float64

	// At is the time the sample was taken.
	At time.Time
}

// Band is a frequency range in Hz.
type Band struct {
	MinHz float64
	MaxHz float64
}

// Analyzer computes [Sample] features from the most recent window of mono
// 16-bit PCM audio. Magnitudes are windowed with a Hann window, smoothed over
// time, converted to decibels and mapped onto 0–255 between -100 dB and
// -30 dB per bin.
type Analyzer struct {
	sampleRate int
	size       int
	smoothing  float64

	ring   []float64
	pos    int
	filled int

	fft      *fourier.FFT
	seq      []float64
	coeffs   []complex128
	smoothed []float64
	bins     []float64
}

// AnalyzerOption configures an [Analyzer].
type AnalyzerOption func(*Analyzer)

// WithFFTSize sets the analysis window length. Non-positive or odd values are
// ignored.
func WithFFTSize(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 && n%2 == 0 {
			a.size = n
		}
	}
}

// WithSmoothing sets the smoothing time constant in [0, 1).
func WithSmoothing(s float64) AnalyzerOption {
	return func(a *Analyzer) {
		if s >= 0 && s < 1 {
			a.smoothing = s
		}
	}
}

// NewAnalyzer returns an Analyzer for audio at sampleRate Hz.
func NewAnalyzer(sampleRate int, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		sampleRate: sampleRate,
		size:       DefaultFFTSize,
		smoothing:  DefaultSmoothing,
	}
	for _, o := range opts {
		o(a)
	}
	a.ring = make([]float64, a.size)
	a.fft = fourier.NewFFT(a.size)
	a.seq = make([]float64, a.size)
	a.coeffs = make([]complex128, a.size/2+1)
	a.smoothed = make([]float64, a.size/2+1)
	a.bins = make([]float64, a.size/2+1)
	return a
}

// Write appends little-endian 16-bit mono PCM to the analysis window. A
// trailing odd byte is ignored.
func (a *Analyzer) Write(pcm []byte) {
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i:]))
		a.ring[a.pos] = float64(v) / 32768
		a.pos = (a.pos + 1) % a.size
		if a.filled < a.size {
			a.filled++
		}
	}
}

// Reset clears the analysis window and the smoothing state.
func (a *Analyzer) Reset() {
	clear(a.ring)
	clear(a.smoothed)
	a.pos, a.filled = 0, 0
}

// Analyze computes the features of the current window. Until the window has
// been filled once, missing samples count as silence.
func (a *Analyzer) Analyze(band Band, at time.Time) Sample {
	// Unroll the ring oldest-first.
	n := copy(a.seq, a.ring[a.pos:])
	copy(a.seq[n:], a.ring[:a.pos])
	window.Hann(a.seq)

	a.fft.Coefficients(a.coeffs, a.seq)

	var total, voice float64
	for i, c := range a.coeffs {
		mag := cmplx.Abs(c) / float64(a.size)
		a.smoothed[i] = a.smoothing*a.smoothed[i] + (1-a.smoothing)*mag
		b := toByte(a.smoothed[i])
		a.bins[i] = b
		total += b

		hz := a.fft.Freq(i) * float64(a.sampleRate)
		if hz >= band.MinHz && hz <= band.MaxHz {
			voice += b
		}
	}

	s := Sample{At: at}
	s.Energy = total / float64(len(a.bins))
	if total > 0 {
		s.VoiceRatio = voice / total
	}
	return s
}

// Bins returns the 0–255 magnitudes computed by the last [Analyzer.Analyze]
// call. The slice is reused between calls.
func (a *Analyzer) Bins() []float64 {
	return a.bins
}

// toByte maps a linear magnitude onto 0–255 across the decibel range.
func toByte(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	return math.Max(0, math.Min(255, math.Floor(v)))
}
