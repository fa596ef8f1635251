package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is delivered by a [Watcher] when the effective configuration
// changes.
type Change struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher follows a config file through filesystem notifications, with a
// periodic poll as backstop, and reports every edit that changes the
// effective configuration. Edits that fail validation are logged and
// ignored, so [Watcher.Current] always holds the last valid config. Edits
// that parse to an identical config, such as comment changes, are absorbed
// silently.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(Change)
	notify   *fsnotify.Watcher

	mu      sync.Mutex
	current *Config
	state   fileState

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// fileState is the cheap fingerprint checked on every tick. The content hash
// is only computed when mtime or size moved.
type fileState struct {
	mtime time.Time
	size  int64
	hash  [sha256.Size]byte
}

func (s fileState) touched(info os.FileInfo) bool {
	return !info.ModTime().Equal(s.mtime) || info.Size() != s.size
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the backstop polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts watching it. When filesystem notifications
// are unavailable the Watcher falls back to polling alone. onChange runs on
// the watch goroutine and may call [Watcher.Current].
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.state = cfg, state

	// Watch the directory: editors replace files by rename, which drops a
	// watch placed on the file itself.
	if nw, err := fsnotify.NewWatcher(); err != nil {
		slog.Warn("config: file notifications unavailable, polling only", "path", path, "err", err)
	} else if err := nw.Add(filepath.Dir(path)); err != nil {
		nw.Close()
		slog.Warn("config: file notifications unavailable, polling only", "path", path, "err", err)
	} else {
		w.notify = nw
	}

	w.wg.Go(w.watch)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends watching and waits for an in-flight onChange to return. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) watch() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w.notify != nil {
		defer w.notify.Close()
		events, errs = w.notify.Events, w.notify.Errors
	}
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
			} else {
				slog.Warn("config: file notification error", "path", w.path, "err", err)
			}
			continue
		case <-ticker.C:
		}
		if c, ok := w.check(); ok && w.onChange != nil {
			w.onChange(c)
		}
	}
}

// check reloads the file if it was touched and reports a Change when the
// effective config differs.
func (w *Watcher) check() (Change, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
		return Change{}, false
	}

	w.mu.Lock()
	prev := w.state
	w.mu.Unlock()
	if !prev.touched(info) {
		return Change{}, false
	}

	cfg, state, err := w.read()
	w.mu.Lock()
	defer w.mu.Unlock()
	if !state.mtime.IsZero() {
		// Remember rejected edits too, so they are reported once.
		w.state = state
	}
	if err != nil {
		slog.Warn("config: reload rejected, keeping current config", "path", w.path, "err", err)
		return Change{}, false
	}
	if state.hash == prev.hash {
		return Change{}, false
	}
	d := Diff(w.current, cfg)
	if !d.Changed() {
		slog.Debug("config: file edited, effective config unchanged", "path", w.path)
		return Change{}, false
	}

	c := Change{Old: w.current, New: cfg, Diff: d}
	w.current = cfg
	slog.Info("config: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"restart_required", d.RestartRequired,
	)
	return c, true
}

// read parses the file and fingerprints it from the bytes actually parsed.
// The fingerprint is returned even when parsing fails.
func (w *Watcher) read() (*Config, fileState, error) {
	fh, err := os.Open(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(fh); err != nil {
		return nil, fileState{}, err
	}
	state := fileState{
		mtime: info.ModTime(),
		size:  info.Size(),
		hash:  sha256.Sum256(buf.Bytes()),
	}
	cfg, err := parse(buf.Bytes())
	if err != nil {
		return nil, state, err
	}
	return cfg, state, nil
}
