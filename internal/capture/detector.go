package capture

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// State is the capture state of a session.
type State int

const (
	// StateIdle means the session is not active.
	StateIdle State = iota

	// StateListening means the microphone is watched for speech.
	StateListening

	// StateRecording means a segment is being recorded.
	StateRecording
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Action tells the caller what to do with the segment recorder after a
// detector step.
type Action int

const (
	// ActionNone requires no recorder change.
	ActionNone Action = iota

	// ActionStart starts a new recording.
	ActionStart

	// ActionFinalize stops the recording and hands the segment off.
	ActionFinalize

	// ActionDiscard stops the recording and drops it because it is shorter
	// than the minimum recording duration.
	ActionDiscard
)

// String returns the lowercase name of the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStart:
		return "start"
	case ActionFinalize:
		return "finalize"
	case ActionDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Reason explains why a recording ended.
type Reason string

const (
	ReasonSilence     Reason = "silence"
	ReasonMaxDuration Reason = "max_duration"
	ReasonStop        Reason = "stop"
)

// noiseMargin is the factor above the threshold a sample must reach before a
// recording may start.
const noiseMargin = 1.5

// Settings are the detector parameters. They are resolved fresh for every
// step so changes apply on the next poll.
type Settings struct {
	// Threshold is the energy (0–255) separating speech from silence.
	Threshold float64

	// SilenceDuration is how long energy must stay below Threshold before a
	// recording is finalized.
	SilenceDuration time.Duration

	// MinRecording is the shortest recording that is handed off. Shorter
	// recordings are discarded.
	MinRecording time.Duration

	// MaxRecording forces finalization of long continuous speech.
	MaxRecording time.Duration

	// RestartDelay is the pause after a finalize before a new recording may
	// start.
	RestartDelay time.Duration

	// EnergyRatioMin is the voice band ratio above which a loud sample is
	// considered speech.
	EnergyRatioMin float64

	// StabilityMax is the coefficient of variation of recent energies below
	// which a loud sample is considered speech.
	StabilityMax float64

	// StabilitySamples is the number of recent energies used for the
	// stability check.
	StabilitySamples int
}

// Decision is the result of a detector step.
type Decision struct {
	Action Action

	// Reason is set for [ActionFinalize] and [ActionDiscard].
	Reason Reason

	// Duration is the length of the recording that ended.
	Duration time.Duration

	// From and To are the states before and after the step.
	From, To State
}

// Transitioned reports whether the step changed the state.
func (d Decision) Transitioned() bool {
	return d.From != d.To
}

// Detector is the voice activity state machine. It is driven entirely by the
// timestamps of the samples it receives, so tests can use synthetic time.
type Detector struct {
	state          State
	recordingStart time.Time
	silenceSince   time.Time
	resumeAt       time.Time
	history        []float64
}

// NewDetector returns an idle detector.
func NewDetector() *Detector {
	return &Detector{}
}

// State returns the current state.
func (d *Detector) State() State {
	return d.state
}

// RecordingStart returns when the current recording started. It is the zero
// time unless the detector is recording.
func (d *Detector) RecordingStart() time.Time {
	if d.state != StateRecording {
		return time.Time{}
	}
	return d.recordingStart
}

// Start moves an idle detector to listening.
func (d *Detector) Start(now time.Time) Decision {
	from := d.state
	if d.state == StateIdle {
		d.state = StateListening
		d.resumeAt = now
		d.history = d.history[:0]
	}
	return Decision{From: from, To: d.state}
}

// Stop returns the detector to idle. A recording in progress ends with
// [ReasonStop] and is discarded when shorter than set.MinRecording.
func (d *Detector) Stop(now time.Time, set Settings) Decision {
	from := d.state
	var dec Decision
	if d.state == StateRecording {
		dec = d.finish(now, set, ReasonStop)
	}
	d.state = StateIdle
	d.silenceSince = time.Time{}
	dec.From, dec.To = from, StateIdle
	return dec
}

// Step feeds one sample through the state machine.
func (d *Detector) Step(s Sample, set Settings) Decision {
	from := d.state
	switch d.state {
	case StateListening:
		d.push(s.Energy, set.StabilitySamples)
		if s.At.Before(d.resumeAt) {
			break
		}
		if d.isSpeech(s, set) {
			d.state = StateRecording
			d.recordingStart = s.At
			d.silenceSince = time.Time{}
			return Decision{Action: ActionStart, From: from, To: d.state}
		}

	case StateRecording:
		d.push(s.Energy, set.StabilitySamples)
		elapsed := s.At.Sub(d.recordingStart)
		if set.MaxRecording > 0 && elapsed >= set.MaxRecording {
			return d.finish(s.At, set, ReasonMaxDuration)
		}
		if s.Energy < set.Threshold {
			if d.silenceSince.IsZero() {
				d.silenceSince = s.At
			}
			if s.At.Sub(d.silenceSince) >= set.SilenceDuration {
				return d.finish(s.At, set, ReasonSilence)
			}
		} else {
			d.silenceSince = time.Time{}
		}
	}
	return Decision{From: from, To: d.state}
}

// isSpeech applies the start rule: the sample must clear the threshold with
// margin, and either its voice band ratio or the stability of recent
// energies must look like speech.
func (d *Detector) isSpeech(s Sample, set Settings) bool {
	if s.Energy <= set.Threshold || s.Energy < set.Threshold*noiseMargin {
		return false
	}
	if s.VoiceRatio > set.EnergyRatioMin {
		return true
	}
	if set.StabilitySamples > 0 && len(d.history) >= set.StabilitySamples {
		return CoefficientOfVariation(d.history) < set.StabilityMax
	}
	return false
}

// finish ends the current recording and schedules the next listening cycle.
func (d *Detector) finish(now time.Time, set Settings, reason Reason) Decision {
	elapsed := now.Sub(d.recordingStart)
	action := ActionFinalize
	if elapsed < set.MinRecording {
		action = ActionDiscard
	}
	d.state = StateListening
	d.silenceSince = time.Time{}
	d.resumeAt = now.Add(set.RestartDelay)
	return Decision{
		Action:   action,
		Reason:   reason,
		Duration: elapsed,
		From:     StateRecording,
		To:       StateListening,
	}
}

// push appends an energy to the rolling history, keeping at most n values.
func (d *Detector) push(e float64, n int) {
	if n <= 0 {
		d.history = d.history[:0]
		return
	}
	d.history = append(d.history, e)
	if over := len(d.history) - n; over > 0 {
		d.history = append(d.history[:0], d.history[over:]...)
	}
}

// CoefficientOfVariation returns the population standard deviation of xs
// divided by its mean. It returns +Inf when the mean is zero.
func CoefficientOfVariation(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(1)
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	if mean == 0 {
		return math.Inf(1)
	}
	return std / mean
}
