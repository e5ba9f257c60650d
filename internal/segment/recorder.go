// Package segment records speech segments and validates them before they are
// spent on a transcription call.
package segment

import (
	"errors"
	"time"

	"github.com/MrWong99/interpreta/pkg/audio"
)

var (
	// ErrRecording is returned by [Recorder.Start] while a recording is active.
	ErrRecording = errors.New("segment: already recording")

	// ErrNotRecording is returned by [Recorder.Stop] when nothing is recorded.
	ErrNotRecording = errors.New("segment: not recording")
)

// Recorder buffers PCM between Start and Stop and encodes the result as a
// WAV segment. Only one recording can be active at a time.
// Not safe for concurrent use.
type Recorder struct {
	format    audio.Format
	buf       []byte
	active    bool
	startedAt time.Time
}

// NewRecorder returns a recorder for PCM in format f.
func NewRecorder(f audio.Format) *Recorder {
	return &Recorder{format: f}
}

// Start begins a new recording.
func (r *Recorder) Start(at time.Time) error {
	if r.active {
		return ErrRecording
	}
	r.active = true
	r.startedAt = at
	r.buf = r.buf[:0]
	return nil
}

// Write appends pcm to the active recording. It is a no-op while idle.
func (r *Recorder) Write(pcm []byte) {
	if r.active {
		r.buf = append(r.buf, pcm...)
	}
}

// Stop ends the recording and returns it as a WAV segment.
func (r *Recorder) Stop() (audio.Segment, error) {
	if !r.active {
		return audio.Segment{}, ErrNotRecording
	}
	r.active = false
	seg := audio.Segment{
		Data:      audio.EncodeWAV(r.buf, r.format),
		MIME:      audio.MIMEWAV,
		Format:    r.format,
		StartedAt: r.startedAt,
		Duration:  audio.Duration(r.buf, r.format),
	}
	r.buf = r.buf[:0]
	return seg, nil
}

// Cancel drops the active recording, if any.
func (r *Recorder) Cancel() {
	r.active = false
	r.buf = r.buf[:0]
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	return r.active
}

// Buffered returns the duration of audio recorded so far.
func (r *Recorder) Buffered() time.Duration {
	return audio.Duration(r.buf, r.format)
}
