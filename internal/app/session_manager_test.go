package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/interpreta/internal/app"
	"github.com/MrWong99/interpreta/internal/config"
	audiomock "github.com/MrWong99/interpreta/pkg/audio/mock"
	"github.com/MrWong99/interpreta/pkg/message"
	"github.com/MrWong99/interpreta/pkg/message/discord"
	"github.com/MrWong99/interpreta/pkg/provider"
	sttmock "github.com/MrWong99/interpreta/pkg/provider/stt/mock"
	trmock "github.com/MrWong99/interpreta/pkg/provider/translate/mock"
)

const testYAML = `
server:
  log_level: info
providers:
  stt:
    name: whisper
  translate:
    name: openai
languages:
  source: de
  target: en
`

func mustConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func newTestSessionManager(t *testing.T, sinks func(string) []message.Sink) (*app.SessionManager, *audiomock.Source) {
	t.Helper()
	src := audiomock.NewSource()
	sm := app.NewSessionManager(app.SessionManagerConfig{
		Source:    src,
		STT:       &sttmock.Provider{},
		Translate: &trmock.Provider{},
		Live:      config.NewLive(mustConfig(t, testYAML)),
		Sinks:     sinks,
		Names:     [2]string{"mock-stt", "mock-translate"},
		NewID:     func() string { return "session-1" },
	})
	return sm, src
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	sm, src := newTestSessionManager(t, nil)
	ctx := context.Background()

	info, err := sm.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if info.ID != "session-1" || !info.Active {
		t.Errorf("Start() info = %+v, want active session-1", info)
	}
	if !sm.IsActive() {
		t.Fatal("expected session to be active after Start")
	}

	if _, err := sm.Start(ctx); !errors.Is(err, app.ErrSessionActive) {
		t.Errorf("second Start() = %v, want ErrSessionActive", err)
	}

	info, err = sm.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if info.Active || info.State != "idle" {
		t.Errorf("Stop() info = %+v, want inactive idle", info)
	}
	if sm.IsActive() {
		t.Fatal("expected session to be inactive after Stop")
	}
	if src.Stops() == 0 {
		t.Error("audio source was not stopped")
	}

	// The last session stays visible.
	if got := sm.Info(); got.ID != "session-1" {
		t.Errorf("Info().ID after stop = %q, want session-1", got.ID)
	}
}

func TestSessionManager_StopWithoutSession(t *testing.T) {
	t.Parallel()

	sm, _ := newTestSessionManager(t, nil)
	if _, err := sm.Stop(context.Background()); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("Stop() = %v, want ErrNoSession", err)
	}
	if msgs := sm.Messages(); msgs == nil || len(msgs) != 0 {
		t.Errorf("Messages() = %v, want empty non-nil slice", msgs)
	}
}

func TestSessionManager_SinkWithoutCredential(t *testing.T) {
	t.Parallel()

	sm, src := newTestSessionManager(t, func(string) []message.Sink {
		return []message.Sink{discord.New(discord.Config{ChannelID: "c1"})}
	})

	_, err := sm.Start(context.Background())
	if !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("Start() = %v, want ErrMissingCredential", err)
	}
	if sm.IsActive() {
		t.Error("session should not be active after a failed Start")
	}
	if src.CallCountStart != 0 {
		t.Errorf("source started %d times, want 0", src.CallCountStart)
	}
}

func TestSessionManager_SourceEndsSession(t *testing.T) {
	t.Parallel()

	sm, src := newTestSessionManager(t, nil)
	if _, err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	// Closing the source ends Run on its own; Stop then finds nothing.
	_ = src.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for sm.IsActive() {
		if time.Now().After(deadline) {
			t.Fatal("session still active after its source ended")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
