package resilience

import (
	"context"

	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/MrWong99/interpreta/pkg/provider"
	"github.com/MrWong99/interpreta/pkg/provider/stt"
	"github.com/MrWong99/interpreta/pkg/provider/translate"
)

var (
	_ stt.Provider               = (*STT)(nil)
	_ translate.Provider         = (*Translator)(nil)
	_ provider.CredentialChecker = (*STT)(nil)
	_ provider.CredentialChecker = (*Translator)(nil)
)

// STT guards a speech-to-text provider with a [Breaker].
type STT struct {
	next    stt.Provider
	breaker *Breaker
}

// NewSTT wraps next.
func NewSTT(next stt.Provider, b *Breaker) *STT {
	return &STT{next: next, breaker: b}
}

// Transcribe implements stt.Provider.
func (s *STT) Transcribe(ctx context.Context, seg audio.Segment, lang string) (string, error) {
	var text string
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = s.next.Transcribe(ctx, seg, lang)
		return err
	})
	return text, err
}

// CheckCredentials forwards to the wrapped provider.
func (s *STT) CheckCredentials() error {
	return provider.CheckCredentials(s.breaker.Name(), s.next)
}

// Breaker returns the guarding breaker.
func (s *STT) Breaker() *Breaker { return s.breaker }

// Translator guards a translation provider with a [Breaker].
type Translator struct {
	next    translate.Provider
	breaker *Breaker
}

// NewTranslator wraps next.
func NewTranslator(next translate.Provider, b *Breaker) *Translator {
	return &Translator{next: next, breaker: b}
}

// Translate implements translate.Provider.
func (t *Translator) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	var out string
	err := t.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = t.next.Translate(ctx, text, src, tgt)
		return err
	})
	return out, err
}

// CheckCredentials forwards to the wrapped provider.
func (t *Translator) CheckCredentials() error {
	return provider.CheckCredentials(t.breaker.Name(), t.next)
}

// Breaker returns the guarding breaker.
func (t *Translator) Breaker() *Breaker { return t.breaker }
