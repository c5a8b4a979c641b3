// Package git drives the git CLI for worktree lifecycle operations. All
// repository mutations go through the installed git binary so sw never
// disagrees with what the user's own git would do.
package git

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/sw/internal/config"
	"github.com/brianly1003/sw/internal/domain"
	swexec "github.com/brianly1003/sw/internal/exec"
)

// hookTimeout bounds the post-create hook so a hung provisioning script
// cannot wedge worktree creation forever.
const hookTimeout = 5 * time.Minute

// aheadBehindTTL bounds how often the same branch is re-counted against
// the main branch during list rendering.
const aheadBehindTTL = 10 * time.Second

// CreateResult reports a created worktree plus non-fatal environment
// warnings (failed symlinks, copies, or hook).
type CreateResult struct {
	Path     string
	Branch   string
	Warnings []string
}

// WorktreeInfo is one entry from git's own worktree list.
type WorktreeInfo struct {
	Path   string
	Head   string
	Branch string
}

// AheadBehind is a branch's divergence from the main branch.
type AheadBehind struct {
	Ahead  int
	Behind int
}

type aheadBehindEntry struct {
	value   AheadBehind
	fetched time.Time
}

// Manager performs worktree operations for one repository.
type Manager struct {
	executor swexec.CommandExecutor
	cfg      *config.Resolved

	mu         sync.Mutex
	divergence map[string]aheadBehindEntry
	now        func() time.Time
}

// NewManager creates a worktree manager bound to a resolved project config.
func NewManager(executor swexec.CommandExecutor, cfg *config.Resolved) *Manager {
	return &Manager{
		executor:   executor,
		cfg:        cfg,
		divergence: make(map[string]aheadBehindEntry),
		now:        time.Now,
	}
}

func (m *Manager) git(ctx context.Context, dir, op string, args ...string) ([]byte, error) {
	stdout, stderr, err := m.executor.Run(ctx, dir, "git", args...)
	if err != nil {
		return nil, domain.NewExternalToolError("git", op, stderr, err)
	}
	return stdout, nil
}

// BranchExists reports whether a local branch exists.
func (m *Manager) BranchExists(ctx context.Context, branch string) bool {
	_, err := m.executor.Output(ctx, m.cfg.RepoRoot, "git",
		"rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// IsDirty reports whether a worktree has uncommitted or untracked changes.
func (m *Manager) IsDirty(ctx context.Context, path string) (bool, error) {
	stdout, stderr, err := m.executor.Run(ctx, path, "git", "status", "--porcelain")
	if err != nil {
		return false, domain.NewExternalToolError("git", "status", stderr, err)
	}
	return len(strings.TrimSpace(string(stdout))) > 0, nil
}

// Create adds a worktree at BaseDir/name. The branch is forked fresh from
// the main branch; when adoptExisting is set an already-existing branch is
// checked out into the worktree instead. The worktree is usable even when
// environment setup partly fails; such failures come back as warnings, not
// errors.
func (m *Manager) Create(ctx context.Context, name, branch string, adoptExisting bool) (*CreateResult, error) {
	path := filepath.Join(m.cfg.BaseDir, name)

	if _, err := os.Stat(path); err == nil {
		return nil, &domain.WorktreeConflictError{Name: name}
	}
	exists := m.BranchExists(ctx, branch)
	if exists && !adoptExisting {
		return nil, &domain.WorktreeConflictError{Name: name, Branch: branch}
	}

	args := []string{"worktree", "add"}
	if exists {
		args = append(args, path, branch)
	} else {
		args = append(args, "-b", branch, path, m.cfg.MainBranch)
	}
	if _, err := m.git(ctx, m.cfg.RepoRoot, "worktree add", args...); err != nil {
		return nil, err
	}

	result := &CreateResult{Path: path, Branch: branch}
	result.Warnings = append(result.Warnings, m.materializeEnv(ctx, path)...)

	if m.cfg.PostCreateHook != "" {
		if warn := m.runHook(ctx, path); warn != "" {
			result.Warnings = append(result.Warnings, warn)
		}
	}

	log.Info().
		Str("worktree", name).
		Str("branch", branch).
		Int("warnings", len(result.Warnings)).
		Msg("worktree created")
	return result, nil
}

// materializeEnv creates the configured symlinks and copies inside a new
// worktree and shields them from git status via the worktree's local
// exclude file.
func (m *Manager) materializeEnv(ctx context.Context, path string) []string {
	var warnings []string
	var excluded []string

	for _, entry := range m.cfg.Symlinks {
		src := filepath.Join(m.cfg.RepoRoot, entry)
		if _, err := os.Stat(src); err != nil {
			log.Warn().Str("entry", entry).Msg("symlink source missing, skipped")
			continue
		}
		if err := os.Symlink(src, filepath.Join(path, entry)); err != nil {
			warnings = append(warnings, fmt.Sprintf("symlink %s: %v", entry, err))
			continue
		}
		excluded = append(excluded, entry)
	}

	for _, entry := range m.cfg.Copies {
		src := filepath.Join(m.cfg.RepoRoot, entry)
		if _, err := os.Stat(src); err != nil {
			log.Warn().Str("entry", entry).Msg("copy source missing, skipped")
			continue
		}
		if err := copyPath(src, filepath.Join(path, entry)); err != nil {
			warnings = append(warnings, fmt.Sprintf("copy %s: %v", entry, err))
			continue
		}
		excluded = append(excluded, entry)
	}

	if len(excluded) > 0 {
		if err := m.excludeEntries(ctx, path, excluded); err != nil {
			warnings = append(warnings, fmt.Sprintf("exclude entries: %v", err))
		}
	}
	return warnings
}

func (m *Manager) excludeEntries(ctx context.Context, path string, entries []string) error {
	out, err := m.executor.Output(ctx, path, "git", "rev-parse", "--git-path", "info/exclude")
	if err != nil {
		return err
	}
	excludePath := strings.TrimSpace(string(out))
	if !filepath.IsAbs(excludePath) {
		excludePath = filepath.Join(path, excludePath)
	}
	if err := os.MkdirAll(filepath.Dir(excludePath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(excludePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, e := range entries {
		if _, err := fmt.Fprintf(f, "/%s\n", e); err != nil {
			return err
		}
	}
	return nil
}

// runHook executes the post-create hook via the shell in the new worktree.
// A failing hook never fails creation; the worktree already exists and the
// user can re-run provisioning by hand.
func (m *Manager) runHook(ctx context.Context, path string) string {
	hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	_, stderr, err := m.executor.Run(hookCtx, path, "sh", "-c", m.cfg.PostCreateHook)
	if err != nil {
		log.Warn().
			Err(err).
			Str("path", path).
			Str("stderr", strings.TrimSpace(string(stderr))).
			Msg("post-create hook failed")
		return fmt.Sprintf("post_create_hook failed: %v: %s", err, strings.TrimSpace(string(stderr)))
	}
	return ""
}

// Remove deletes a worktree. Uncommitted changes block removal unless
// force is set; force also falls back to removing the directory directly
// when git refuses.
func (m *Manager) Remove(ctx context.Context, name, path, branch string, force bool) error {
	if !force {
		dirty, err := m.IsDirty(ctx, path)
		if err != nil {
			// The directory may be gone already; let git worktree remove
			// decide instead of failing the status probe.
			if !os.IsNotExist(underlying(err)) {
				log.Warn().Err(err).Str("worktree", name).Msg("dirty check failed, continuing")
			}
		} else if dirty {
			return &domain.WorktreeDirtyError{Name: name, Path: path}
		}
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := m.git(ctx, m.cfg.RepoRoot, "worktree remove", args...); err != nil {
		if !force {
			return err
		}
		log.Warn().Err(err).Str("path", path).Msg("git worktree remove failed, removing directory")
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return err
		}
	}

	if _, err := m.git(ctx, m.cfg.RepoRoot, "worktree prune", "worktree", "prune"); err != nil {
		log.Warn().Err(err).Msg("worktree prune failed")
	}

	if branch != "" && m.cfg.DeleteBranchOnCleanup {
		if _, err := m.git(ctx, m.cfg.RepoRoot, "branch delete", "branch", "-D", branch); err != nil {
			log.Warn().Err(err).Str("branch", branch).Msg("branch delete failed")
		}
	}

	log.Info().Str("worktree", name).Str("path", path).Msg("worktree removed")
	return nil
}

// Divergence counts commits the branch is ahead of and behind the main
// branch, cached briefly so list rendering does not hammer git.
func (m *Manager) Divergence(ctx context.Context, branch string) (AheadBehind, error) {
	m.mu.Lock()
	if entry, ok := m.divergence[branch]; ok && m.now().Sub(entry.fetched) < aheadBehindTTL {
		m.mu.Unlock()
		return entry.value, nil
	}
	m.mu.Unlock()

	out, err := m.executor.Output(ctx, m.cfg.RepoRoot, "git",
		"rev-list", "--left-right", "--count", m.cfg.MainBranch+"..."+branch)
	if err != nil {
		return AheadBehind{}, domain.NewExternalToolError("git", "rev-list", nil, err)
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		return AheadBehind{}, fmt.Errorf("unexpected rev-list output: %q", string(out))
	}
	behind, err1 := strconv.Atoi(fields[0])
	ahead, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return AheadBehind{}, fmt.Errorf("parsing rev-list output %q", string(out))
	}
	value := AheadBehind{Ahead: ahead, Behind: behind}

	m.mu.Lock()
	m.divergence[branch] = aheadBehindEntry{value: value, fetched: m.now()}
	m.mu.Unlock()
	return value, nil
}

// Discover lists the worktrees git itself knows about, for reconciling
// the registry against reality.
func (m *Manager) Discover(ctx context.Context) ([]WorktreeInfo, error) {
	out, err := m.git(ctx, m.cfg.RepoRoot, "worktree list", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(string(out)), nil
}

func parseWorktreeList(out string) []WorktreeInfo {
	var infos []WorktreeInfo
	var current *WorktreeInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			if current != nil {
				infos = append(infos, *current)
				current = nil
			}
		case strings.HasPrefix(line, "worktree "):
			current = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if current != nil {
		infos = append(infos, *current)
	}
	return infos
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

func copyPath(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := copyPath(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	default:
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	}
}
