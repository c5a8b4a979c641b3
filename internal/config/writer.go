package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/brianly1003/sw/internal/domain"
)

// writeLockTimeout bounds how long a Set waits for another process to
// finish writing the project config file.
const (
	writeLockTimeout       = 3 * time.Second
	writeLockRetryInterval = 50 * time.Millisecond
)

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// keyKind describes how a known key's string form is coerced on write.
type keyKind int

const (
	kindString keyKind = iota
	kindBool
	kindInt
	kindStringList
)

// knownKeys is the full set of writable dotted keys and their types.
var knownKeys = map[string]keyKind{
	"worktree.prefix":              kindString,
	"worktree.branch_prefix":       kindString,
	"worktree.base_dir":            kindString,
	"env.symlinks":                 kindStringList,
	"env.copies":                   kindStringList,
	"env.post_create_hook":         kindString,
	"git.main_branch":              kindString,
	"git.remote":                   kindString,
	"git.delete_branch_on_cleanup": kindBool,
	"state.lock_timeout_ms":        kindInt,
	"status.capture_lines":         kindInt,
	"status.approval_markers":      kindStringList,
	"status.input_markers":         kindStringList,
	"status.busy_markers":          kindStringList,
}

// KnownKeys returns the writable keys in sorted order, for help output.
func KnownKeys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func coerceValue(key, raw string) (interface{}, error) {
	kind, ok := knownKeys[key]
	if !ok {
		return nil, domain.NewConfigError(key, "project", "unknown key")
	}
	switch kind {
	case kindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, domain.NewConfigError(key, "project", fmt.Sprintf("not a boolean: %q", raw))
		}
		return b, nil
	case kindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, domain.NewConfigError(key, "project", fmt.Sprintf("not an integer: %q", raw))
		}
		return n, nil
	case kindStringList:
		if strings.TrimSpace(raw) == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

// Set writes one key into the project config file (.sw.toml at the repo
// root), creating the file when absent and preserving other keys. The
// read-modify-write cycle runs under an advisory lock on a sidecar file
// and commits atomically, so concurrent Sets of different keys both land.
func Set(repoRoot, key, raw string) error {
	value, err := coerceValue(key, raw)
	if err != nil {
		return err
	}

	path := filepath.Join(repoRoot, ProjectConfigName)
	lock, err := lockProjectConfig(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = unix.Flock(int(lock.Fd()), unix.LOCK_UN)
		lock.Close()
	}()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	// Ignore a missing file: the first Set creates it.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
			return domain.NewConfigError("(file)", "project", err.Error())
		}
	}

	v.Set(key, value)
	return writeConfigAtomic(v, path)
}

// lockProjectConfig takes the exclusive advisory lock guarding the
// project config file, polling until the timeout.
func lockProjectConfig(path string) (*os.File, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening config lock file: %w", err)
	}

	deadline := time.Now().Add(writeLockTimeout)
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
			return nil, &domain.LockContentionError{Path: lockPath, Timeout: writeLockTimeout}
		}
		time.Sleep(writeLockRetryInterval)
	}
}

// writeConfigAtomic commits the config via a temp file in the same
// directory and a rename, so a concurrent reader never sees a torn file.
func writeConfigAtomic(v *viper.Viper, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sw-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := v.WriteConfigAs(tmpPath); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	f, err := os.OpenFile(tmpPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("reopening temp config file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing temp config file: %w", err)
	}
	f.Close()
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("committing %s: %w", path, err)
	}
	return nil
}
