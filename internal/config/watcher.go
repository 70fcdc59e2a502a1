package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// snapshot is one successfully parsed version of the config file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher keeps the config file's last valid content current while the
// program runs. It polls the file's mtime and, when asked, reloads on a
// signal. Edits that fail validation are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	reload   <-chan os.Signal
	onChange func(old, new *Config)

	mu   sync.Mutex
	last snapshot
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file's mtime is checked. The default is
// 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithReloadSignal makes [Watcher.Run] re-read the file whenever ch fires,
// regardless of its mtime. Typically fed by signal.Notify for SIGHUP.
func WithReloadSignal(ch <-chan os.Signal) WatcherOption {
	return func(w *Watcher) { w.reload = ch }
}

// NewWatcher parses the file at path. onChange, if non-nil, is called with
// the previous and new config after every accepted change.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Run watches the file until ctx is done and then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		case <-w.reload:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config watcher: reload rejected", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file now. It reports whether the content differed
// from the current config; an invalid file returns an error and leaves the
// current config in place.
func (w *Watcher) Reload() (bool, error) {
	snap, err := readSnapshot(w.path)
	if err != nil {
		return false, err
	}
	return w.swap(snap), nil
}

// poll reloads only when the mtime moved since the last read.
func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := readSnapshot(w.path)
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		// Remember the mtime so a broken file is reported once per edit.
		w.mu.Lock()
		w.last.mtime = info.ModTime()
		w.mu.Unlock()
		return
	}
	w.swap(snap)
}

// swap installs snap and runs the callback when its content is new. A
// touched but identical file only refreshes the stored mtime.
func (w *Watcher) swap(snap snapshot) bool {
	w.mu.Lock()
	if snap.sum == w.last.sum {
		w.last.mtime = snap.mtime
		w.mu.Unlock()
		return false
	}
	old := w.last.cfg
	w.last = snap
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	// Called unlocked so the callback may use Current.
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
	return true
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
