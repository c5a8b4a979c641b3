package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/sw/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "state-abc123.json"), time.Second)
}

func TestWithLockCreatesAndCommits(t *testing.T) {
	store := newTestStore(t)

	err := store.WithLock(context.Background(), func(record *domain.StateRecord) error {
		record.RepoRoot = "/home/u/proj"
		record.Worktrees = append(record.Worktrees, &domain.Worktree{
			Name:   "proj-1",
			Path:   "/home/u/proj-1",
			Branch: "sw-proj-1",
		})
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}

	snap, err := store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.RepoRoot != "/home/u/proj" {
		t.Errorf("RepoRoot = %q", snap.RepoRoot)
	}
	if len(snap.Worktrees) != 1 || snap.Worktrees[0].Name != "proj-1" {
		t.Errorf("Worktrees = %v", snap.Worktrees)
	}
}

func TestWithLockErrorDiscardsMutation(t *testing.T) {
	store := newTestStore(t)

	if err := store.WithLock(context.Background(), func(record *domain.StateRecord) error {
		record.RepoRoot = "/keep"
		return nil
	}); err != nil {
		t.Fatalf("setup WithLock: %v", err)
	}

	boom := errors.New("boom")
	err := store.WithLock(context.Background(), func(record *domain.StateRecord) error {
		record.RepoRoot = "/discarded"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want fn error back, got %v", err)
	}

	snap, _ := store.Snapshot()
	if snap.RepoRoot != "/keep" {
		t.Errorf("RepoRoot = %q, failed transaction must not commit", snap.RepoRoot)
	}
}

func TestSnapshotMissingFileIsEmpty(t *testing.T) {
	store := newTestStore(t)
	snap, err := store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Worktrees) != 0 || snap.RepoRoot != "" {
		t.Errorf("expected empty record, got %+v", snap)
	}
}

func TestCorruptFileReportedNotRepaired(t *testing.T) {
	store := newTestStore(t)
	if err := os.MkdirAll(filepath.Dir(store.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := store.Snapshot()
	var corrupt *domain.StateCorruptionError
	if !errors.As(err, &corrupt) {
		t.Fatalf("want StateCorruptionError, got %v", err)
	}

	err = store.WithLock(context.Background(), func(record *domain.StateRecord) error {
		return nil
	})
	if !errors.As(err, &corrupt) {
		t.Fatalf("WithLock must surface corruption, got %v", err)
	}

	// The corrupt file must still be there for manual repair.
	data, readErr := os.ReadFile(store.Path())
	if readErr != nil || string(data) != "{not json" {
		t.Errorf("corrupt file was modified: %q %v", data, readErr)
	}
}

func TestWithLockSerializesConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state-race.json")
	const writers = 8
	const increments = 10

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store := NewStore(path, 10*time.Second)
			for j := 0; j < increments; j++ {
				err := store.WithLock(context.Background(), func(record *domain.StateRecord) error {
					record.Worktrees = append(record.Worktrees, &domain.Worktree{
						Name: "wt",
					})
					return nil
				})
				if err != nil {
					t.Errorf("WithLock: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	snap, err := NewStore(path, time.Second).Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Worktrees) != writers*increments {
		t.Errorf("len(Worktrees) = %d, want %d (lost updates)", len(snap.Worktrees), writers*increments)
	}
}

func TestLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state-held.json")
	holder := NewStore(path, time.Second)
	waiter := NewStore(path, 150*time.Millisecond)

	held := make(chan struct{})
	releaseHold := make(chan struct{})
	go func() {
		_ = holder.WithLock(context.Background(), func(record *domain.StateRecord) error {
			close(held)
			<-releaseHold
			return nil
		})
	}()
	<-held
	defer close(releaseHold)

	err := waiter.WithLock(context.Background(), func(record *domain.StateRecord) error {
		return nil
	})
	var contention *domain.LockContentionError
	if !errors.As(err, &contention) {
		t.Fatalf("want LockContentionError, got %v", err)
	}
}

func TestWithLockContextCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state-ctx.json")
	holder := NewStore(path, time.Second)
	waiter := NewStore(path, 10*time.Second)

	held := make(chan struct{})
	releaseHold := make(chan struct{})
	go func() {
		_ = holder.WithLock(context.Background(), func(record *domain.StateRecord) error {
			close(held)
			<-releaseHold
			return nil
		})
	}()
	<-held
	defer close(releaseHold)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := waiter.WithLock(ctx, func(record *domain.StateRecord) error {
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
}
