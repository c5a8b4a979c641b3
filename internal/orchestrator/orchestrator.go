// Package orchestrator composes the config, state, git, and tmux layers
// behind the operations the CLI exposes. Every structural mutation is one
// state-store transaction. Creation-side subprocess work (git, tmux,
// hooks) happens outside the lock so a slow external tool never blocks
// other sw processes on metadata; teardown holds the lock across kill and
// remove so no concurrent process can add a session mid-cleanup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brianly1003/sw/internal/config"
	"github.com/brianly1003/sw/internal/domain"
	"github.com/brianly1003/sw/internal/domain/events"
	"github.com/brianly1003/sw/internal/domain/ports"
	"github.com/brianly1003/sw/internal/git"
	"github.com/brianly1003/sw/internal/history"
	"github.com/brianly1003/sw/internal/state"
	"github.com/brianly1003/sw/internal/status"
	"github.com/brianly1003/sw/internal/tmux"
)

// SessionOptions controls how a new agent session is launched. Branch
// applies to NewWorktree only: it overrides the derived branch name, and
// an existing branch of that name is adopted rather than refused.
type SessionOptions struct {
	Label           string
	Prompt          string
	SkipPermissions bool
	Continue        bool
	Branch          string
}

// WorktreeResult reports a created worktree, its first session, and any
// non-fatal setup warnings.
type WorktreeResult struct {
	Worktree *domain.Worktree
	Session  *domain.Session
	Warnings []string
}

// ListEntry is one worktree enriched with git divergence for display.
type ListEntry struct {
	Worktree *domain.Worktree
	Dirty    bool
	Ahead    int
	Behind   int
}

// Orchestrator is the facade over the whole session-management core.
type Orchestrator struct {
	cfg       *config.Resolved
	store     *state.Store
	worktrees *git.Manager
	tmux      *tmux.Controller
	hub       ports.EventHub
	history   *history.Log
	detector  *status.Detector
	logger    *slog.Logger
}

// New creates the orchestrator. hub and hist may be nil for one-shot CLI
// invocations that don't observe events.
func New(cfg *config.Resolved, store *state.Store, worktrees *git.Manager, tmuxCtl *tmux.Controller, hub ports.EventHub, hist *history.Log, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	rules := status.RulesWithOverrides(cfg.ApprovalMarkers, cfg.InputMarkers, cfg.BusyMarkers)
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		worktrees: worktrees,
		tmux:      tmuxCtl,
		hub:       hub,
		history:   hist,
		detector:  status.NewDetector(tmuxCtl, store, hub, rules, cfg.CaptureLines, logger),
		logger:    logger,
	}
}

// Detector returns the status detector for the host's polling loop.
func (o *Orchestrator) Detector() *status.Detector {
	return o.detector
}

// Config returns the resolved project configuration.
func (o *Orchestrator) Config() *config.Resolved {
	return o.cfg
}

// SetConfig writes one key into the project config file. The change is
// picked up by the next resolve; the running instance keeps its view.
func (o *Orchestrator) SetConfig(key, value string) error {
	return config.Set(o.cfg.RepoRoot, key, value)
}

// NewWorktree creates a worktree named <prefix>-<suffix> on branch
// <branch_prefix><suffix> and starts its first agent session. The
// worktree is recorded even when the session fails to launch; the
// filesystem work already happened and dropping the record would orphan
// it.
func (o *Orchestrator) NewWorktree(ctx context.Context, suffix string, opts SessionOptions) (*WorktreeResult, error) {
	name := o.cfg.WorktreePrefix + "-" + suffix
	branch := o.cfg.BranchPrefix + suffix
	adopt := false
	if opts.Branch != "" {
		branch = opts.Branch
		adopt = true
	}

	snap, err := o.store.Snapshot()
	if err != nil {
		return nil, err
	}
	if snap.Worktree(name) != nil {
		return nil, &domain.WorktreeConflictError{Name: name}
	}

	created, err := o.worktrees.Create(ctx, name, branch, adopt)
	if err != nil {
		return nil, err
	}

	result := &WorktreeResult{
		Worktree: &domain.Worktree{
			Name:      name,
			Path:      created.Path,
			Branch:    created.Branch,
			CreatedAt: time.Now().UTC(),
		},
		Warnings: created.Warnings,
	}

	sess, sessErr := o.startSession(ctx, name, created.Path, opts)
	if sessErr != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("session launch failed: %v", sessErr))
	} else {
		result.Worktree.Sessions = []*domain.Session{sess}
		result.Session = sess
	}

	err = o.store.WithLock(ctx, func(record *domain.StateRecord) error {
		if record.RepoRoot == "" {
			record.RepoRoot = o.cfg.RepoRoot
			record.WorktreeBase = o.cfg.BaseDir
		}
		if record.Worktree(name) != nil {
			return &domain.WorktreeConflictError{Name: name}
		}
		record.Worktrees = append(record.Worktrees, result.Worktree)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if o.hub != nil {
		o.hub.Publish(events.NewWorktreeCreatedEvent(name, branch, created.Path, result.Warnings))
		if result.Session != nil {
			o.hub.Publish(events.NewSessionCreatedEvent(name, result.Session.ID, result.Session.TmuxName, result.Session.Label))
		}
	}
	o.logger.Info("worktree ready",
		"worktree", name, "branch", branch, "warnings", len(result.Warnings))
	return result, nil
}

// startSession launches the agent in a fresh tmux session. The name is
// collision-checked against tmux itself, not the registry; the two can
// diverge when sessions are killed out-of-band.
func (o *Orchestrator) startSession(ctx context.Context, worktreeName, path string, opts SessionOptions) (*domain.Session, error) {
	tmuxName, err := o.tmux.NextSessionName(ctx, worktreeName)
	if err != nil {
		return nil, err
	}
	spec := tmux.LaunchSpec{
		WorkDir:         path,
		InitialPrompt:   opts.Prompt,
		SkipPermissions: opts.SkipPermissions,
		Continue:        opts.Continue,
	}
	if err := o.tmux.NewSession(ctx, tmuxName, spec); err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:              uuid.New().String(),
		TmuxName:        tmuxName,
		Label:           opts.Label,
		InitialPrompt:   opts.Prompt,
		SkipPermissions: opts.SkipPermissions,
		Status:          domain.StatusStarting,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// AddSession starts another agent session in an existing worktree.
func (o *Orchestrator) AddSession(ctx context.Context, worktreeName string, opts SessionOptions) (*domain.Session, error) {
	snap, err := o.store.Snapshot()
	if err != nil {
		return nil, err
	}
	wt := snap.Worktree(worktreeName)
	if wt == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorktreeNotFound, worktreeName)
	}

	sess, err := o.startSession(ctx, worktreeName, wt.Path, opts)
	if err != nil {
		return nil, err
	}

	err = o.store.WithLock(ctx, func(record *domain.StateRecord) error {
		stored := record.Worktree(worktreeName)
		if stored == nil {
			return fmt.Errorf("%w: %s", domain.ErrWorktreeNotFound, worktreeName)
		}
		stored.Sessions = append(stored.Sessions, sess)
		return nil
	})
	if err != nil {
		// The record vanished between snapshot and lock; don't leak the
		// tmux session we just started.
		_ = o.tmux.KillSession(ctx, sess.TmuxName)
		return nil, err
	}

	if o.hub != nil {
		o.hub.Publish(events.NewSessionCreatedEvent(worktreeName, sess.ID, sess.TmuxName, sess.Label))
	}
	o.logger.Info("session added", "worktree", worktreeName, "session", sess.TmuxName)
	return sess, nil
}

// RecoverSession launches a replacement session in a worktree, resuming
// the agent's previous conversation. Dead sessions stay dead; recovery
// always mints a new record.
func (o *Orchestrator) RecoverSession(ctx context.Context, worktreeName string, opts SessionOptions) (*domain.Session, error) {
	opts.Continue = true
	return o.AddSession(ctx, worktreeName, opts)
}

// List returns every tracked worktree, enriched with dirty state and
// branch divergence. Enrichment failures degrade to zero values; a
// listing must not fail because one branch went away.
func (o *Orchestrator) List(ctx context.Context) ([]ListEntry, error) {
	snap, err := o.store.Snapshot()
	if err != nil {
		return nil, err
	}

	entries := make([]ListEntry, 0, len(snap.Worktrees))
	for _, wt := range snap.Worktrees {
		entry := ListEntry{Worktree: wt}
		if dirty, err := o.worktrees.IsDirty(ctx, wt.Path); err == nil {
			entry.Dirty = dirty
		}
		if div, err := o.worktrees.Divergence(ctx, wt.Branch); err == nil {
			entry.Ahead = div.Ahead
			entry.Behind = div.Behind
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// History returns recorded status transitions for a worktree, newest
// first. Returns nil when no history log is attached.
func (o *Orchestrator) History(worktreeName string, limit int) ([]history.Transition, error) {
	if o.history == nil {
		return nil, nil
	}
	return o.history.ByWorktree(worktreeName, limit)
}

// Cleanup kills a worktree's sessions, removes the worktree, and drops it
// from the registry. Uncommitted changes block removal unless force is
// set. Killing an already-dead session is a no-op. The whole teardown
// holds the state lock: a session committed by a concurrent add is either
// visible here and killed, or its add fails against the removed record.
func (o *Orchestrator) Cleanup(ctx context.Context, worktreeName string, force bool) error {
	var removedName, removedPath string
	killed := 0
	err := o.store.WithLock(ctx, func(record *domain.StateRecord) error {
		wt := record.Worktree(worktreeName)
		if wt == nil {
			return fmt.Errorf("%w: %s", domain.ErrWorktreeNotFound, worktreeName)
		}

		// Dirty check first so sessions survive a refused cleanup.
		if !force {
			dirty, err := o.worktrees.IsDirty(ctx, wt.Path)
			if err == nil && dirty {
				return &domain.WorktreeDirtyError{Name: wt.Name, Path: wt.Path}
			}
		}

		for _, sess := range wt.Sessions {
			if err := o.tmux.KillSession(ctx, sess.TmuxName); err != nil {
				o.logger.Warn("kill session failed", "session", sess.TmuxName, "error", err)
				continue
			}
			killed++
		}

		if err := o.worktrees.Remove(ctx, wt.Name, wt.Path, wt.Branch, force); err != nil {
			return err
		}

		removedName, removedPath = wt.Name, wt.Path
		record.RemoveWorktree(worktreeName)
		return nil
	})
	if err != nil {
		return err
	}

	if o.hub != nil {
		o.hub.Publish(events.NewWorktreeRemovedEvent(removedName, removedPath, killed))
	}
	o.logger.Info("worktree cleaned up", "worktree", worktreeName, "sessions_killed", killed)
	return nil
}

// RenameSession updates a session's human label.
func (o *Orchestrator) RenameSession(ctx context.Context, sessionID, label string) error {
	var worktreeName string
	err := o.store.WithLock(ctx, func(record *domain.StateRecord) error {
		wt, sess := record.FindSession(sessionID)
		if sess == nil {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
		worktreeName = wt.Name
		sess.Label = label
		return nil
	})
	if err != nil {
		return err
	}
	if o.hub != nil {
		o.hub.Publish(events.NewSessionRenamedEvent(worktreeName, sessionID, label))
	}
	return nil
}

// AttachSession returns a foreground command that hands the calling
// terminal over to the session. The caller owns the command's lifetime;
// no lock is held while attached.
func (o *Orchestrator) AttachSession(ctx context.Context, sessionID string) (*osexec.Cmd, error) {
	snap, err := o.store.Snapshot()
	if err != nil {
		return nil, err
	}
	_, sess := snap.FindSession(sessionID)
	if sess == nil {
		// Fall back to matching by tmux name, which is what users see.
		_, sess = snap.FindSessionByTmuxName(sessionID)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if !o.tmux.HasSession(ctx, sess.TmuxName) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionDead, sess.TmuxName)
	}
	return o.tmux.AttachCommand(sess.TmuxName), nil
}

// Reconcile aligns the registry with what git and tmux actually have:
// worktrees whose directories git no longer lists are dropped, sessions
// tmux no longer has are marked dead, and prefix-matching worktrees git
// knows but the registry does not are adopted. Out-of-band changes are
// normal; users run git and tmux directly too.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	infos, err := o.worktrees.Discover(ctx)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(infos))
	for _, info := range infos {
		existing[info.Path] = true
	}

	var removedWorktrees []string
	var deadSessions []string
	var adoptedWorktrees []string
	err = o.store.WithLock(ctx, func(record *domain.StateRecord) error {
		kept := record.Worktrees[:0]
		tracked := make(map[string]bool, len(record.Worktrees))
		for _, wt := range record.Worktrees {
			if !existing[wt.Path] {
				removedWorktrees = append(removedWorktrees, wt.Name)
				continue
			}
			for _, sess := range wt.Sessions {
				if sess.Status.Terminal() {
					continue
				}
				if !o.tmux.HasSession(ctx, sess.TmuxName) {
					sess.Status = domain.StatusDead
					deadSessions = append(deadSessions, sess.TmuxName)
				}
			}
			kept = append(kept, wt)
			tracked[wt.Path] = true
		}
		record.Worktrees = kept

		// Adopt worktrees created outside sw that follow the naming
		// convention, so they show up in listings and get cleaned up.
		for _, info := range infos {
			if tracked[info.Path] || info.Path == o.cfg.RepoRoot {
				continue
			}
			name := filepath.Base(info.Path)
			if !strings.HasPrefix(name, o.cfg.WorktreePrefix+"-") {
				continue
			}
			if record.Worktree(name) != nil {
				continue
			}
			record.Worktrees = append(record.Worktrees, &domain.Worktree{
				Name:      name,
				Path:      info.Path,
				Branch:    info.Branch,
				CreatedAt: time.Now().UTC(),
			})
			adoptedWorktrees = append(adoptedWorktrees, name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(removedWorktrees)+len(deadSessions)+len(adoptedWorktrees) > 0 {
		o.logger.Info("registry reconciled",
			"worktrees_dropped", len(removedWorktrees),
			"sessions_dead", len(deadSessions),
			"worktrees_adopted", len(adoptedWorktrees))
	}
	return nil
}

// IsNotFound reports whether an error is any of the not-found sentinels,
// for exit-code mapping in the CLI.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrWorktreeNotFound) ||
		errors.Is(err, domain.ErrSessionNotFound) ||
		errors.Is(err, domain.ErrProjectNotFound)
}
