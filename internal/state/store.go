// Package state persists the per-project registry as a JSON file guarded
// by an advisory file lock, so concurrent sw processes serialize their
// read-modify-write cycles.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/brianly1003/sw/internal/domain"
)

// lockRetryInterval is how often a blocked acquisition re-attempts the
// non-blocking flock before the timeout expires.
const lockRetryInterval = 50 * time.Millisecond

// Store persists one project's registry at a fixed path.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
}

// NewStore creates a store for the given state file. The lock lives in a
// sidecar file so the state file itself can be atomically replaced.
func NewStore(path string, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Store{
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: lockTimeout,
	}
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// PathFor builds the state file path for a project hash inside dir.
func PathFor(dir, hash string) string {
	return filepath.Join(dir, "state-"+hash+".json")
}

// acquire takes the exclusive advisory lock, polling until the timeout or
// context cancellation.
func (s *Store) acquire(ctx context.Context) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	deadline := time.Now().Add(s.lockTimeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			f.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, &domain.LockContentionError{Path: s.lockPath, Timeout: s.lockTimeout}
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (s *Store) release(f *os.File) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		log.Warn().Err(err).Str("path", s.lockPath).Msg("failed to release state lock")
	}
	f.Close()
}

// read loads and decodes the state file. A missing file yields a fresh
// empty record rather than an error.
func (s *Store) read() (*domain.StateRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.StateRecord{}, nil
		}
		return nil, &domain.StateCorruptionError{Path: s.path, Err: err}
	}
	var record domain.StateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &domain.StateCorruptionError{Path: s.path, Err: err}
	}
	return &record, nil
}

// write commits a record atomically: temp file in the same directory,
// fsync, then rename over the live path.
func (s *Store) write(record *domain.StateRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("committing state file: %w", err)
	}
	return nil
}

// WithLock runs fn with exclusive ownership of the registry. The record
// passed to fn is freshly read under the lock; when fn returns nil the
// mutated record is committed atomically before the lock is released. A
// non-nil error from fn discards the mutation.
//
// Not reentrant: calling WithLock from inside fn deadlocks until the
// timeout fires.
func (s *Store) WithLock(ctx context.Context, fn func(record *domain.StateRecord) error) error {
	f, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer s.release(f)

	record, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(record); err != nil {
		return err
	}
	return s.write(record)
}

// Snapshot returns the current registry without taking the lock. The
// atomic rename commit guarantees a reader never observes a torn file,
// only a possibly slightly stale one.
func (s *Store) Snapshot() (*domain.StateRecord, error) {
	return s.read()
}
