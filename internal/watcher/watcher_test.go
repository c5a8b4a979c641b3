package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianly1003/sw/internal/domain/events"
	"github.com/brianly1003/sw/internal/hub"
)

func TestWatcherEmitsReloadOnAtomicCommit(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state-abc.json")

	h := hub.New()
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	sub := hub.NewChannelSubscriber("test", 16)
	h.Subscribe(sub)

	w := NewWatcher(statePath, h, 20*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Commit the way the store does: temp file then rename.
	tmp := filepath.Join(dir, ".state-x.tmp")
	if err := os.WriteFile(tmp, []byte(`{"repo_root":"/p"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, statePath); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Type() != events.EventTypeRegistryReloaded {
			t.Errorf("event type = %q, want registry_reloaded", ev.Type())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload event after atomic commit")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state-abc.json")

	h := hub.New()
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	sub := hub.NewChannelSubscriber("test", 16)
	h.Subscribe(sub)

	w := NewWatcher(statePath, h, 20*time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "state-other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sub.Events():
		t.Errorf("unexpected event %q for unrelated file", ev.Type())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStartStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(filepath.Join(dir, "state-abc.json"), hub.New(), 0)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !w.IsRunning() {
		t.Error("watcher not running after Start")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if w.IsRunning() {
		t.Error("watcher still running after Stop")
	}
}
