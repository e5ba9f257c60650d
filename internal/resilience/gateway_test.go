package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/interpreta/internal/resilience"
	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/MrWong99/interpreta/pkg/provider"
	sttmock "github.com/MrWong99/interpreta/pkg/provider/stt/mock"
	trmock "github.com/MrWong99/interpreta/pkg/provider/translate/mock"
)

func TestSTT_TripsAndShortCircuits(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{TranscribeErr: errBoom}
	s := resilience.NewSTT(p, resilience.NewBreaker(resilience.BreakerConfig{Name: "stt", MaxFailures: 2}))

	ctx := context.Background()
	for range 2 {
		if _, err := s.Transcribe(ctx, audio.Segment{}, "en"); !errors.Is(err, errBoom) {
			t.Fatalf("err = %v, want boom", err)
		}
	}
	if _, err := s.Transcribe(ctx, audio.Segment{}, "en"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := p.CallCount(); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
}

func TestSTT_PassesResult(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Text: "Hello there."}
	s := resilience.NewSTT(p, resilience.NewBreaker(resilience.BreakerConfig{}))

	got, err := s.Transcribe(context.Background(), audio.Segment{}, "de-DE")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "Hello there." {
		t.Errorf("text = %q, want %q", got, "Hello there.")
	}
	if p.TranscribeCalls[0].Lang != "de-DE" {
		t.Errorf("lang = %q, want de-DE", p.TranscribeCalls[0].Lang)
	}
}

func TestTranslator_PassesResult(t *testing.T) {
	t.Parallel()

	p := &trmock.Provider{Prefix: "DE: "}
	tr := resilience.NewTranslator(p, resilience.NewBreaker(resilience.BreakerConfig{Name: "translate"}))

	got, err := tr.Translate(context.Background(), "Hello.", "en", "de")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "DE: Hello." {
		t.Errorf("got %q, want %q", got, "DE: Hello.")
	}
	if tr.Breaker().State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed", tr.Breaker().State())
	}
}

func TestGateways_CheckCredentials(t *testing.T) {
	t.Parallel()

	s := resilience.NewSTT(&sttmock.Provider{MissingCredential: true}, resilience.NewBreaker(resilience.BreakerConfig{Name: "stt"}))
	if err := s.CheckCredentials(); !errors.Is(err, provider.ErrMissingCredential) {
		t.Errorf("stt CheckCredentials = %v, want ErrMissingCredential", err)
	}

	tr := resilience.NewTranslator(&trmock.Provider{}, resilience.NewBreaker(resilience.BreakerConfig{Name: "translate"}))
	if err := tr.CheckCredentials(); err != nil {
		t.Errorf("translate CheckCredentials = %v, want nil", err)
	}
}
