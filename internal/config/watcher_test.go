package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/helpdesk/internal/config"
)

const watchedYAML = `
server:
  log_level: info
providers:
  embeddings:
    name: hashing
`

const watchedDebugYAML = `
server:
  log_level: debug
providers:
  embeddings:
    name: hashing
pipeline:
  retrieval_k: 5
`

// startWatcher writes content to a temp file and watches it with a short
// polling interval. Reloads are delivered on the returned channel.
func startWatcher(t *testing.T, content string) (string, *config.Watcher, chan config.Change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helpdesk.yaml")
	writeFile(t, path, content)

	ch := make(chan config.Change, 4)
	w, err := config.NewWatcher(path, func(c config.Change) {
		ch <- c
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, ch
}

// writeFile writes content and pushes the mtime forward so coarse file
// system timestamps still register the change.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watchedYAML)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want info", got)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path, w, ch := startWatcher(t, watchedYAML)
	writeFile(t, path, watchedDebugYAML)

	var c config.Change
	select {
	case c = <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
	}
	d := c.Diff
	if c.Old.Server.LogLevel != config.LogInfo || c.New.Server.LogLevel != config.LogDebug {
		t.Errorf("change old=%q new=%q, want info to debug", c.Old.Server.LogLevel, c.New.Server.LogLevel)
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if len(d.RestartRequired) != 1 || d.RestartRequired[0] != "pipeline" {
		t.Errorf("RestartRequired = %v, want [pipeline]", d.RestartRequired)
	}
	if w.Current().Pipeline.RetrievalK != 5 {
		t.Errorf("Current not updated: %+v", w.Current().Pipeline)
	}
}

func TestWatcher_IgnoresInvalidAndTouchOnly(t *testing.T) {
	t.Parallel()

	for name, content := range map[string]string{
		"invalid":        "server:\n  log_level: bananas\n",
		"touch only":     watchedYAML,
		"comment only":   "# tuned for the pilot\n" + watchedYAML,
		"explicit value": watchedYAML + "mcp:\n  path: /mcp\n",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path, w, ch := startWatcher(t, watchedYAML)
			writeFile(t, path, content)

			select {
			case c := <-ch:
				t.Fatalf("unexpected reload: %+v", c.Diff)
			case <-time.After(200 * time.Millisecond):
			}
			if got := w.Current().Server.LogLevel; got != config.LogInfo {
				t.Errorf("Current log_level = %q, want info", got)
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
	path := filepath.Join(t.TempDir(), "helpdesk.yaml")
	writeFile(t, path, watchedYAML)

	var calls atomic.Int32
	w, err := config.NewWatcher(path, func(config.Change) { calls.Add(1) })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
	if calls.Load() != 0 {
		t.Errorf("onChange called %d times", calls.Load())
	}
}

func TestWatcher_RecoversAfterInvalidEdit(t *testing.T) {
	t.Parallel()
	path, w, ch := startWatcher(t, watchedYAML)

	writeFile(t, path, "server:\n  log_level: bananas\n")
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, watchedDebugYAML)

	select {
	case c := <-ch:
		if c.Old.Server.LogLevel != config.LogInfo || !c.Diff.LogLevelChanged {
			t.Errorf("change = %+v, want info to debug", c.Diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s after fixing the file")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current log_level = %q, want debug", got)
	}
}
