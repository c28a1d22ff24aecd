package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"repairbot/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes on disk and hands the new
// config to a callback. Rapid saves are collapsed into one reload.
//
// The parent directory is watched rather than the file itself so that
// editors which save via rename keep triggering events.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for path. onChange runs on the watcher
// goroutine.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		debounce: 300 * time.Millisecond,
		onChange: onChange,
		watcher:  fw,
	}, nil
}

// Run processes events until ctx is cancelled. It always returns nil on
// cancellation so it can sit in an errgroup next to the server.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			logging.Get(logging.CategoryBoot).Debugf("config watcher: %s %s", event.Op, event.Name)
			pendingSince = time.Now()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryBoot).Warnf("config watcher error: %v", err)

		case <-ticker.C:
			if pendingSince.IsZero() || time.Since(pendingSince) < w.debounce {
				continue
			}
			pendingSince = time.Time{}
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Get(logging.CategoryBoot).Warnf("config reload skipped: %v", err)
		return
	}
	logging.Boot("config reloaded from %s", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
