package app_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/interpreta/internal/app"
	"github.com/MrWong99/interpreta/internal/capture"
	"github.com/MrWong99/interpreta/internal/config"
	"github.com/MrWong99/interpreta/internal/observe"
	"github.com/MrWong99/interpreta/internal/pipeline"
	"github.com/MrWong99/interpreta/pkg/audio"
	audiomock "github.com/MrWong99/interpreta/pkg/audio/mock"
	"github.com/MrWong99/interpreta/pkg/message"
	sttmock "github.com/MrWong99/interpreta/pkg/provider/stt/mock"
	trmock "github.com/MrWong99/interpreta/pkg/provider/translate/mock"
)

func newTestApp(t *testing.T, yaml string, opts ...app.Option) *app.App {
	t.Helper()
	return newTestAppWith(t, yaml, &app.Providers{STT: &sttmock.Provider{}, Translate: &trmock.Provider{}}, opts...)
}

func newTestAppWith(t *testing.T, yaml string, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithSource(audiomock.NewSource()),
		app.WithMetrics(observe.DefaultMetrics(), prometheus.NewRegistry()),
	}, opts...)
	a, err := app.New(context.Background(), mustConfig(t, yaml), providers, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func do(t *testing.T, srv *httptest.Server, method, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), mustConfig(t, testYAML), &app.Providers{STT: &sttmock.Provider{}})
	if err == nil {
		t.Fatal("New() without translate provider succeeded, want error")
	}
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testYAML)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	steps := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/session", http.StatusNotFound},
		{http.MethodDelete, "/api/session", http.StatusNotFound},
		{http.MethodPost, "/api/session", http.StatusCreated},
		{http.MethodPost, "/api/session", http.StatusConflict},
		{http.MethodGet, "/api/session", http.StatusOK},
		{http.MethodDelete, "/api/session", http.StatusOK},
		{http.MethodGet, "/api/messages", http.StatusOK},
		{http.MethodGet, "/api/sessions/abc/messages", http.StatusNotFound},
		{http.MethodGet, "/ws/events", http.StatusNotFound},
	}
	for _, s := range steps {
		if got, body := do(t, srv, s.method, s.path); got != s.want {
			t.Errorf("%s %s = %d (%s), want %d", s.method, s.path, got, strings.TrimSpace(body), s.want)
		}
	}
}

func TestApp_SessionInfoJSON(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testYAML)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	code, body := do(t, srv, http.MethodPost, "/api/session")
	if code != http.StatusCreated {
		t.Fatalf("POST /api/session = %d, want 201", code)
	}
	var info app.SessionInfo
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ID == "" || !info.Active {
		t.Errorf("info = %+v, want an active session with an id", info)
	}

	if code, _ := do(t, srv, http.MethodDelete, "/api/session"); code != http.StatusOK {
		t.Fatalf("DELETE /api/session = %d, want 200", code)
	}
	_, body = do(t, srv, http.MethodGet, "/api/messages")
	var msgs []message.Message
	if err := json.Unmarshal([]byte(body), &msgs); err != nil || msgs == nil {
		t.Errorf("GET /api/messages = %q, want a JSON array", body)
	}
}

// captureYAML makes the detector pick up synthetic noise within a few ticks.
const captureYAML = testYAML + `
capture:
  threshold: 10
  silence_duration: 300ms
  min_recording: 200ms
  energy_ratio_min: 0.1
  stability_max: 0.3
  stability_samples: 5
`

func noiseFrame(rng *rand.Rand, amp float64, n int) audio.Frame {
	pcm := make([]byte, n*2)
	for i := range n {
		v := (rng.Float64()*2 - 1) * amp
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1}
}

func TestApp_SessionReportsPipelineErrors(t *testing.T) {
	t.Parallel()

	src := audiomock.NewSource()
	ticks := make(chan time.Time)
	var clock atomic.Int64
	clock.Store(time.Unix(1_700_000_000, 0).UnixNano())

	providers := &app.Providers{
		STT:       &sttmock.Provider{Text: "Das wird nie übersetzt."},
		Translate: &trmock.Provider{TranslateErr: errors.New("quota exceeded")},
	}
	a := newTestAppWith(t, captureYAML, providers,
		app.WithSource(src),
		app.WithSessionOptions(
			pipeline.WithTicker(ticks),
			pipeline.WithClock(func() time.Time { return time.Unix(0, clock.Load()) }),
			pipeline.WithAnalyzerOptions(capture.WithSmoothing(0)),
		),
	)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if code, body := do(t, srv, http.MethodPost, "/api/session"); code != http.StatusCreated {
		t.Fatalf("POST /api/session = %d (%s), want 201", code, body)
	}

	// Speak without pausing; stopping flushes the recording and its text.
	rng := rand.New(rand.NewPCG(7, 11))
	for range 4 {
		src.Push(noiseFrame(rng, 0.5, 1600))
		at := time.Unix(0, clock.Add(int64(100*time.Millisecond)))
		select {
		case ticks <- at:
		case <-time.After(5 * time.Second):
			t.Fatal("session stopped accepting ticks")
		}
	}
	if code, body := do(t, srv, http.MethodDelete, "/api/session"); code != http.StatusOK {
		t.Fatalf("DELETE /api/session = %d (%s), want 200", code, body)
	}

	code, body := do(t, srv, http.MethodGet, "/api/session")
	if code != http.StatusOK {
		t.Fatalf("GET /api/session = %d, want 200", code)
	}
	var info app.SessionInfo
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	if info.Errors != 1 || info.LastError == nil {
		t.Fatalf("info = %s, want one recorded error", body)
	}
	le := info.LastError
	if le.Stage != "translate" || le.MessageID != 1 || !strings.Contains(le.Error, "quota exceeded") {
		t.Errorf("last_error = %+v, want the translate failure of message 1", le)
	}
	if info.Messages != 1 {
		t.Errorf("messages = %d, want the untranslated message kept", info.Messages)
	}
}

func writeFile(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	mt := time.Now().Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
}

func TestApp_ConfigReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	base := strings.Replace(testYAML, "log_level: info", "log_level: info\n  config_poll_interval: 20ms", 1)
	writeFile(t, path, base, time.Hour)

	var lv slog.LevelVar
	newTestApp(t, base, app.WithConfigPath(path), app.WithLevelVar(&lv))

	updated := strings.Replace(base, "log_level: info", "log_level: debug", 1)
	writeFile(t, path, updated, 0)

	deadline := time.Now().Add(5 * time.Second)
	for lv.Level() != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatalf("log level = %v after reload, want debug", lv.Level())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApp_ReloadEndpoint(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	base := strings.Replace(testYAML, "log_level: info", "log_level: info\n  config_poll_interval: 1h", 1)
	writeFile(t, path, base, time.Hour)

	var lv slog.LevelVar
	a := newTestApp(t, base, app.WithConfigPath(path), app.WithLevelVar(&lv))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if code, body := do(t, srv, http.MethodPost, "/api/config/reload"); code != http.StatusOK || !strings.Contains(body, "unchanged") {
		t.Fatalf("reload of unchanged file = %d %q, want 200 unchanged", code, body)
	}

	writeFile(t, path, strings.Replace(base, "log_level: info", "log_level: debug", 1), 0)
	if code, body := do(t, srv, http.MethodPost, "/api/config/reload"); code != http.StatusOK || !strings.Contains(body, "reloaded") {
		t.Fatalf("reload of edited file = %d %q, want 200 reloaded", code, body)
	}
	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}

	writeFile(t, path, "server:\n  log_level: bananas\n", 0)
	if code, _ := do(t, srv, http.MethodPost, "/api/config/reload"); code != http.StatusUnprocessableEntity {
		t.Errorf("reload of invalid file = %d, want 422", code)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
