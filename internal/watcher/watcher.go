// Package watcher observes the committed state file using fsnotify and
// publishes reload events so long-lived hosts notice mutations made by
// other sw processes.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/sw/internal/domain/events"
	"github.com/brianly1003/sw/internal/domain/ports"
)

// Watcher emits a RegistryReloaded event whenever the state file is
// atomically replaced. The watch covers the state directory rather than
// the file itself: the rename commit swaps the inode out from under a
// per-file watch.
type Watcher struct {
	statePath string
	hub       ports.EventHub
	debounce  time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	timer   *time.Timer
	running bool
}

// NewWatcher creates a watcher for one project's state file.
func NewWatcher(statePath string, hub ports.EventHub, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		statePath: statePath,
		hub:       hub,
		debounce:  debounce,
	}
}

// Start begins watching. Starting a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.statePath)); err != nil {
		fsw.Close()
		return err
	}
	w.watcher = fsw

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	go w.eventLoop(watchCtx)

	log.Info().Str("path", w.statePath).Msg("state watcher started")
	return nil
}

// Stop terminates watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	log.Info().Msg("state watcher stopped")
	return err
}

// IsRunning returns true if the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("state watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.statePath {
		return
	}
	// The atomic commit shows up as Create (rename target) on Linux.
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	// Burst writes collapse into one reload notification.
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		log.Debug().Str("path", w.statePath).Msg("state file changed")
		w.hub.Publish(events.NewRegistryReloadedEvent(w.statePath))
	})
}
