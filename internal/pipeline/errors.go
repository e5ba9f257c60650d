package pipeline

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by [Session.Run] when called on a session that has
// already run.
var ErrStopped = errors.New("pipeline: session already run")

// Stage names the part of the pipeline an [Error] came from.
type Stage string

const (
	StageCapture   Stage = "capture"
	StageSTT       Stage = "stt"
	StageTranslate Stage = "translate"
	StageSink      Stage = "sink"
)

// Error is a failure reported to the session error handler. The pipeline
// never retries; the affected segment or message is left as is and the
// session carries on.
type Error struct {
	Stage Stage

	// Seq is the segment sequence number for capture and stt errors.
	Seq uint64

	// MessageID is set for translate and sink errors.
	MessageID int64

	Err error
}

func (e *Error) Error() string {
	switch e.Stage {
	case StageTranslate, StageSink:
		return fmt.Sprintf("pipeline: %s: message %d: %v", e.Stage, e.MessageID, e.Err)
	default:
		return fmt.Sprintf("pipeline: %s: segment %d: %v", e.Stage, e.Seq, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }
