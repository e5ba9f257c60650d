// Package mock provides a test double for the translate.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/interpreta/pkg/provider"
	"github.com/MrWong99/interpreta/pkg/provider/translate"
)

// TranslateCall records a single invocation of Provider.Translate.
type TranslateCall struct {
	Text string
	Src  string
	Tgt  string
}

// Provider is a mock implementation of translate.Provider. By default it
// returns the input text prefixed with Prefix.
type Provider struct {
	mu sync.Mutex

	// Prefix is prepended to the input to form the translation.
	Prefix string

	// TranslateErr, if non-nil, is returned as the error from Translate.
	TranslateErr error

	// TranslateFunc, if set, replaces the default behaviour. It is called
	// without the mutex held so it may block.
	TranslateFunc func(ctx context.Context, text, src, tgt string) (string, error)

	// MissingCredential makes CheckCredentials fail.
	MissingCredential bool

	// TranslateCalls records every call to Translate.
	TranslateCalls []TranslateCall
}

// Translate records the call and returns the canned response.
func (p *Provider) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	p.mu.Lock()
	p.TranslateCalls = append(p.TranslateCalls, TranslateCall{Text: text, Src: src, Tgt: tgt})
	fn, prefix, err := p.TranslateFunc, p.Prefix, p.TranslateErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, src, tgt)
	}
	if err != nil {
		return "", err
	}
	return prefix + text, nil
}

// CheckCredentials returns provider.ErrMissingCredential when
// MissingCredential is set.
func (p *Provider) CheckCredentials() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MissingCredential {
		return provider.MissingCredential("mock translate")
	}
	return nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []TranslateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranslateCall, len(p.TranslateCalls))
	copy(out, p.TranslateCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = nil
}

var (
	_ translate.Provider         = (*Provider)(nil)
	_ provider.CredentialChecker = (*Provider)(nil)
)
