// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Texts: []string{"Hello there.", "How are you?"}}
//	text, _ := p.Transcribe(ctx, seg, "en")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/MrWong99/interpreta/pkg/provider"
	"github.com/MrWong99/interpreta/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Segment is the segment passed to Transcribe.
	Segment audio.Segment
	// Lang is the language hint passed to Transcribe.
	Lang string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Texts are returned by successive Transcribe calls. Once exhausted, Text
	// is returned.
	Texts []string

	// Text is returned when Texts is empty.
	Text string

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeFunc, if set, replaces the canned responses above. It is
	// called without the mutex held so it may block.
	TranscribeFunc func(ctx context.Context, seg audio.Segment, lang string) (string, error)

	// MissingCredential makes CheckCredentials fail.
	MissingCredential bool

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next canned response.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment, lang string) (string, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Segment: seg, Lang: lang})
	fn := p.TranscribeFunc
	if fn == nil {
		defer p.mu.Unlock()
		if p.TranscribeErr != nil {
			return "", p.TranscribeErr
		}
		if len(p.Texts) > 0 {
			text := p.Texts[0]
			p.Texts = p.Texts[1:]
			return text, nil
		}
		return p.Text, nil
	}
	p.mu.Unlock()
	return fn(ctx, seg, lang)
}

// CheckCredentials returns provider.ErrMissingCredential when
// MissingCredential is set.
func (p *Provider) CheckCredentials() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MissingCredential {
		return provider.MissingCredential("mock stt")
	}
	return nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

var (
	_ stt.Provider               = (*Provider)(nil)
	_ provider.CredentialChecker = (*Provider)(nil)
)
