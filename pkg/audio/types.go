// Package audio defines the audio frame type, the [Source] abstraction for
// live capture devices, and PCM helpers shared by capture, segmentation, and
// speech-to-text providers.
//
// All PCM in this package is signed 16-bit little-endian. Multi-channel
// audio is interleaved.
//
// Implementations of [Source] live in sub-packages (audio/portaudio for local
// microphones, audio/wsmic for browsers streaming over WebSocket). This
// package lives under pkg/ because third-party capture adapters are expected
// to implement [Source].
package audio

import (
	"context"
	"time"
)

// Frame is one chunk of captured audio.
type Frame struct {
	// Data is the PCM payload.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT, 48000 for Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Source delivers a continuous stream of audio from one capture device.
//
// Start opens the device and returns the frame channel. The channel is closed
// when capture ends, either because ctx was cancelled, Stop was called, or the
// device failed. A Source is started at most once.
type Source interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
}

// Device describes a capture device that a [Source] implementation can open.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Segment is one finished recording handed from the recorder to validation
// and transcription. It is consumed exactly once.
type Segment struct {
	// Data is the encoded audio blob.
	Data []byte

	// MIME is the media type of Data (e.g., "audio/wav").
	MIME string

	// Format is the format of the PCM inside Data.
	Format Format

	// StartedAt is when the recording started.
	StartedAt time.Time

	// Duration is the recorded length.
	Duration time.Duration
}
