package cliconfig

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/logrelay/pkg/log"
)

const watchDebounce = 100 * time.Millisecond

// Watcher monitors the config file for changes via fsnotify and invokes a
// callback after writes settle. Rapid editor write bursts are debounced.
type Watcher struct {
	path     string
	onChange func()
	logger   log.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, onChange func(), logger log.Logger) *Watcher {
	return &Watcher{path: path, onChange: onChange, logger: logger}
}

// Run watches until the context is canceled. The parent directory is
// watched rather than the file itself so atomic rename-style saves are seen.
func (w *Watcher) Run(ctx context.Context) {
	if w.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("config watcher: create failed", log.Err(err))
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Error("config watcher: watch failed",
			log.String("dir", dir),
			log.Err(err))
		return
	}

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.fireDebounced()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher: error", log.Err(err))
		}
	}
}

func (w *Watcher) fireDebounced() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(watchDebounce, w.onChange)
}
