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

// DefaultWatchInterval is how often [Watcher.Run] polls the config file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives a reloaded config together with what changed relative
// to the previous one. It is only called for non-empty diffs.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and reports relevant changes. Edits that fail
// to parse or validate are logged once and ignored; the last valid config
// stays current.
//
// A modification-time check gates a SHA-256 comparison, so touching the file
// does nothing, and an edit that only changes comments or secrets produces an
// empty [ConfigDiff] and no callback.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte
	badHash   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a Watcher for it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}

	data, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current = cfg
	w.lastHash = sha256.Sum256(data)
	w.lastMtime = mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.modified() {
				_, _ = w.Reload()
			}
		}
	}
}

// modified reports whether the file's mtime moved since the last read.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.lastMtime)
}

// Reload reads the file now, regardless of its mtime. When the content
// changed and is valid it becomes current, and the diff is passed to the
// change callback if non-empty. Invalid content returns the error and leaves
// the current config in place.
func (w *Watcher) Reload() (ConfigDiff, error) {
	data, mtime, err := w.read()
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return ConfigDiff{}, err
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	w.lastMtime = mtime
	if hash == w.lastHash {
		w.mu.Unlock()
		return ConfigDiff{}, nil
	}
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.mu.Lock()
		repeated := hash == w.badHash
		w.badHash = hash
		w.mu.Unlock()
		if !repeated {
			slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		}
		return ConfigDiff{}, err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.mu.Unlock()

	d := Diff(old, cfg)
	if d.Empty() {
		slog.Debug("config watcher: file changed without relevant changes", "path", w.path)
		return d, nil
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return d, nil
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}
