package fpm

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Watcher polls files for modification and calls onChange when any of them
// is replaced, touched or removed. It is used to restart php-fpm after the
// extension is rebuilt.
type Watcher struct {
	files    []string
	interval time.Duration
	logger   *slog.Logger
	onChange func()
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	mtimes   map[string]time.Time
}

// NewWatcher creates a watcher for the given files.
func NewWatcher(files []string, interval time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		files:    files,
		interval: interval,
		logger:   logger,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		mtimes:   make(map[string]time.Time),
	}
}

// Start records the current modification times and begins polling.
func (w *Watcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.mtimes = w.scan()

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if w.detectChanges() {
					w.logger.Info("watched files changed")
					w.onChange()
				}
			case <-w.ctx.Done():
				return
			}
		}
	}()

	w.logger.Info("file watcher started", "files", w.files, "interval", w.interval)
}

// Stop stops polling and waits for the polling goroutine to exit. A watcher
// that was never started only has its context cancelled.
func (w *Watcher) Stop() {
	w.cancel()
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watcher) scan() map[string]time.Time {
	mtimes := make(map[string]time.Time, len(w.files))
	for _, f := range w.files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		mtimes[f] = info.ModTime()
	}
	return mtimes
}

func (w *Watcher) detectChanges() bool {
	current := w.scan()
	changed := false

	for path, mtime := range current {
		old, exists := w.mtimes[path]
		switch {
		case !exists:
			w.logger.Debug("file appeared", "path", path)
			changed = true
		case !mtime.Equal(old):
			w.logger.Debug("file changed", "path", path)
			changed = true
		}
	}
	for path := range w.mtimes {
		if _, exists := current[path]; !exists {
			w.logger.Debug("file removed", "path", path)
			changed = true
		}
	}

	w.mtimes = current
	return changed
}
