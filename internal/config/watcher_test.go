package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/interpreta/internal/config"
)

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeConfig writes content and moves the mtime forward so coarse file
// system timestamps still register the change.
func writeConfig(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	at := time.Now().Add(bump)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func newWatchedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, minimalYAML, 0)
	return path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, err := config.NewWatcher(newWatchedFile(t), nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if cfg := w.Current(); cfg == nil || cfg.Providers.STT.Name != "whisper" {
		t.Fatalf("Current() = %+v, want the loaded config", cfg)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := newWatchedFile(t)
	type change struct{ old, new *config.Config }
	changes := make(chan change, 1)

	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		select {
		case changes <- change{old, new}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, minimalYAML+"capture:\n  threshold: 33\n", 2*time.Second)

	select {
	case c := <-changes:
		if c.old.Capture.Threshold != 20 || c.new.Capture.Threshold != 33 {
			t.Errorf("thresholds old=%v new=%v, want 20 and 33", c.old.Capture.Threshold, c.new.Capture.Threshold)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onChange not called")
	}
	if got := w.Current().Capture.Threshold; got != 33 {
		t.Errorf("Current threshold = %v, want 33", got)
	}
}

func TestWatcher_IgnoresInvalidAndTouchOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		write func(t *testing.T, path string)
	}{
		{
			name: "invalid content",
			write: func(t *testing.T, path string) {
				writeConfig(t, path, watcherInvalidYAML, 2*time.Second)
			},
		},
		{
			name: "touch only",
			write: func(t *testing.T, path string) {
				at := time.Now().Add(2 * time.Second)
				if err := os.Chtimes(path, at, at); err != nil {
					t.Fatal(err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := newWatchedFile(t)
			var (
				mu    sync.Mutex
				calls int
			)
			w, err := config.NewWatcher(path, func(_, _ *config.Config) {
				mu.Lock()
				calls++
				mu.Unlock()
			}, config.WithInterval(20*time.Millisecond))
			if err != nil {
				t.Fatalf("NewWatcher: %v", err)
			}
			defer w.Stop()

			tt.write(t, path)
			time.Sleep(200 * time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			if calls != 0 {
				t.Errorf("onChange called %d times, want 0", calls)
			}
			if w.Current().Providers.STT.Name != "whisper" {
				t.Error("Current() lost the previous config")
			}
		})
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	w, err := config.NewWatcher(newWatchedFile(t), nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	path := newWatchedFile(t)
	var (
		mu      sync.Mutex
		changes int
	)
	w, err := config.NewWatcher(path, func(_, _ *config.Config) {
		mu.Lock()
		changes++
		mu.Unlock()
	}, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := w.Reload(); !errors.Is(err, config.ErrUnchanged) {
		t.Fatalf("Reload() of untouched file = %v, want ErrUnchanged", err)
	}

	// Same mtime, new content: only a forced reload notices.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(minimalYAML+"capture:\n  threshold: 44\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload() after edit = %v", err)
	}
	if got := w.Current().Capture.Threshold; got != 44 {
		t.Errorf("threshold = %v, want 44", got)
	}

	writeConfig(t, path, watcherInvalidYAML, 2*time.Second)
	if err := w.Reload(); err == nil || errors.Is(err, config.ErrUnchanged) {
		t.Errorf("Reload() of invalid file = %v, want a validation error", err)
	}
	if got := w.Current().Capture.Threshold; got != 44 {
		t.Errorf("threshold after invalid edit = %v, want 44", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if changes != 1 {
		t.Errorf("onChange called %d times, want 1", changes)
	}
}

func TestWatcher_ReportsInvalidEditOnce(t *testing.T) {
	t.Parallel()

	path := newWatchedFile(t)
	errs := make(chan error, 8)
	w, err := config.NewWatcher(path, nil,
		config.WithInterval(20*time.Millisecond),
		config.WithReloadErrors(func(err error) { errs <- err }),
	)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, watcherInvalidYAML, 2*time.Second)
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("reload error not reported")
	}

	time.Sleep(200 * time.Millisecond)
	if n := len(errs); n != 0 {
		t.Errorf("got %d more reports for the same edit, want 0", n)
	}
}
