// Package stt defines the Provider interface for speech-to-text gateways.
//
// A gateway receives one finalized [audio.Segment] at a time and returns the
// recognized text. Segments are independent: there is no streaming session
// and no state carried between calls, so implementations must be safe for
// concurrent use. The pipeline may have several transcriptions in flight and
// restores capture order itself.
package stt

import (
	"context"

	"github.com/MrWong99/interpreta/pkg/audio"
)

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe returns the text spoken in seg. lang is a language hint
	// (ISO 639-1 or BCP-47); an empty string lets the backend detect it.
	//
	// An empty or whitespace-only result with a nil error means nothing
	// intelligible was said. Errors are returned as-is and never retried.
	Transcribe(ctx context.Context, seg audio.Segment, lang string) (string, error)
}
