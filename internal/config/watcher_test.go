package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/MrWong99/voicechat/internal/config"
)

const (
	baseYAML = `
server:
  log_level: info
api:
  base_url: http://localhost:8000
vad:
  silence_duration: 4s
`
	tunedYAML = `
server:
  log_level: debug
api:
  base_url: http://localhost:8000
vad:
  silence_duration: 2s
`
	brokenYAML = `
server:
  log_level: bananas
`
)

// changes collects the diffs passed to a watcher's callback.
type changes struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	seen  chan struct{}
}

func newChanges() *changes { return &changes{seen: make(chan struct{}, 8)} }

func (c *changes) record(old, new *config.Config) {
	c.mu.Lock()
	c.diffs = append(c.diffs, config.Diff(old, new))
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diffs)
}

func (c *changes) wait(t *testing.T) config.ConfigDiff {
	t.Helper()
	select {
	case <-c.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("no change observed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diffs[len(c.diffs)-1]
}

// configFile writes content to a fresh temp file.
func configFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// edit rewrites path and moves its mtime forward so coarse filesystem
// clocks register the change.
func edit(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	touch(t, path)
}

func touch(t *testing.T, path string) {
	t.Helper()
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// start runs w until the test ends.
func start(t *testing.T, w *config.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	w, err := config.NewWatcher(configFile(t, baseYAML), nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().VAD.SilenceDuration; got != 4*time.Second {
		t.Errorf("silence duration = %v, want 4s", got)
	}

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("missing file: expected error")
	}
	if _, err := config.NewWatcher(configFile(t, brokenYAML), nil); err == nil {
		t.Error("invalid file: expected error")
	}
}

func TestWatcher_PollPicksUpEdit(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	ch := newChanges()
	w, err := config.NewWatcher(path, ch.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	start(t, w)

	edit(t, path, tunedYAML)
	d := ch.wait(t)

	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.VADChanged || d.NewVAD.SilenceDuration != 2*time.Second {
		t.Errorf("vad diff = %+v", d)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("Current not updated")
	}
}

func TestWatcher_PollIgnoresBrokenAndTouchedFiles(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	ch := newChanges()
	w, err := config.NewWatcher(path, ch.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	start(t, w)

	touch(t, path)
	time.Sleep(150 * time.Millisecond)
	edit(t, path, brokenYAML)
	time.Sleep(150 * time.Millisecond)

	if n := ch.count(); n != 0 {
		t.Errorf("callback ran %d times, want 0", n)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Error("broken edit replaced the current config")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	ch := newChanges()
	w, err := config.NewWatcher(path, ch.record)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	if changed, err := w.Reload(); err != nil || changed {
		t.Errorf("unchanged file: changed=%v err=%v", changed, err)
	}

	// No mtime bump: Reload must not depend on it.
	if err := os.WriteFile(path, []byte(tunedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if changed, err := w.Reload(); err != nil || !changed {
		t.Fatalf("edited file: changed=%v err=%v", changed, err)
	}
	if d := ch.wait(t); !d.VADChanged {
		t.Errorf("diff = %+v", d)
	}

	if err := os.WriteFile(path, []byte(brokenYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Reload(); err == nil {
		t.Error("broken file: expected error")
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("broken reload replaced the current config")
	}
}

func TestWatcher_ReloadSignal(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	ch := newChanges()
	sig := make(chan os.Signal, 1)
	w, err := config.NewWatcher(path, ch.record,
		config.WithInterval(time.Hour),
		config.WithReloadSignal(sig),
	)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	start(t, w)

	if err := os.WriteFile(path, []byte(tunedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	sig <- syscall.SIGHUP

	if d := ch.wait(t); d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
}
