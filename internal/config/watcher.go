package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrUnchanged is returned by [Watcher.Reload] when the file content matches
// the configuration already in effect.
var ErrUnchanged = errors.New("config: file unchanged")

// fileStamp identifies one version of the watched file.
type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher keeps the configuration of a file current. It polls the file's
// modification time and, when it moves, re-reads and validates the file. A
// valid edit with new content replaces the current configuration and is
// passed to onChange. An invalid edit is reported and the previous
// configuration stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	onError  func(error)

	// reloadMu serialises reloads from the poll loop and Reload.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithReloadErrors is called with every failed background reload. Without it
// failures are logged at warn level.
func WithReloadErrors(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher loads path and starts polling it in the background. The
// initial load must succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.onError == nil {
		w.onError = func(err error) {
			slog.Warn("config reload failed, keeping previous config", "path", path, "err", err)
		}
	}

	cfg, stamp, err := readStamped(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.stamp = cfg, stamp

	go w.run()
	return w, nil
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Reload re-reads the file now, regardless of its modification time. It
// returns [ErrUnchanged] when the content is identical to the current one and
// the validation error when the file is invalid.
func (w *Watcher) Reload() error {
	return w.reload(true)
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.reload(false); err != nil && !errors.Is(err, ErrUnchanged) {
				w.onError(err)
			}
		}
	}
}

// reload swaps in the file's configuration when it differs from the current
// one. Unless forced, a file whose mtime has not moved is not read at all.
func (w *Watcher) reload(force bool) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return err
		}
		w.mu.Lock()
		same := info.ModTime().Equal(w.stamp.mtime)
		w.mu.Unlock()
		if same {
			return ErrUnchanged
		}
	}

	cfg, stamp, err := readStamped(w.path)
	if err != nil {
		// Remember the mtime so a broken file is reported once per edit.
		if info, serr := os.Stat(w.path); serr == nil {
			w.mu.Lock()
			w.stamp.mtime = info.ModTime()
			w.mu.Unlock()
		}
		return err
	}

	w.mu.Lock()
	if stamp.sum == w.stamp.sum {
		w.stamp.mtime = stamp.mtime
		w.mu.Unlock()
		return ErrUnchanged
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	slog.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

// readStamped loads and validates path together with its version stamp.
func readStamped(path string) (*Config, fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
