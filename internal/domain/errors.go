// Package domain contains the registry data model and domain errors used
// throughout the application.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	ErrNotGitRepo       = errors.New("not a git repository")
	ErrProjectNotFound  = errors.New("project not found")
	ErrWorktreeNotFound = errors.New("worktree not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionDead      = errors.New("session is dead")
	ErrSubscriberClosed = errors.New("subscriber is closed")
	ErrHubNotRunning    = errors.New("event hub is not running")
)

// ConfigError reports a malformed or type-mismatched setting. Layer names
// which file the bad value came from ("defaults", "global", "project").
type ConfigError struct {
	Key    string
	Layer  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s (%s layer): %s", e.Key, e.Layer, e.Reason)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(key, layer, reason string) *ConfigError {
	return &ConfigError{Key: key, Layer: layer, Reason: reason}
}

// WorktreeConflictError reports a worktree name or branch collision.
type WorktreeConflictError struct {
	Name   string
	Branch string
}

func (e *WorktreeConflictError) Error() string {
	if e.Branch != "" {
		return fmt.Sprintf("worktree %q: branch %q already exists", e.Name, e.Branch)
	}
	return fmt.Sprintf("worktree %q already exists", e.Name)
}

// WorktreeDirtyError reports a destructive operation blocked by
// uncommitted changes.
type WorktreeDirtyError struct {
	Name string
	Path string
}

func (e *WorktreeDirtyError) Error() string {
	return fmt.Sprintf("worktree %q has uncommitted changes at %s (use force to remove anyway)", e.Name, e.Path)
}

// LockContentionError reports a timed-out state-lock acquisition.
type LockContentionError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("could not acquire state lock %s within %s", e.Path, e.Timeout)
}

// ExternalToolError reports a non-zero exit or timeout from an external
// subprocess (git, tmux, post-create hook). Stderr carries whatever the
// tool wrote before failing.
type ExternalToolError struct {
	Tool   string // "git", "tmux", "hook"
	Op     string // operation that failed
	Stderr string
	Err    error
}

func (e *ExternalToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s %s: %v: %s", e.Tool, e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s %s: %v", e.Tool, e.Op, e.Err)
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// NewExternalToolError creates a new ExternalToolError.
func NewExternalToolError(tool, op string, stderr []byte, err error) *ExternalToolError {
	return &ExternalToolError{Tool: tool, Op: op, Stderr: string(stderr), Err: err}
}

// StateCorruptionError reports an unreadable or unparseable persisted
// registry. It is never auto-repaired: discarding the file would orphan
// real git worktrees and tmux sessions.
type StateCorruptionError struct {
	Path string
	Err  error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v (manual repair required)", e.Path, e.Err)
}

func (e *StateCorruptionError) Unwrap() error {
	return e.Err
}
