package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianly1003/sw/internal/config"
	"github.com/brianly1003/sw/internal/domain"
	swexec "github.com/brianly1003/sw/internal/exec"
	"github.com/brianly1003/sw/internal/git"
	"github.com/brianly1003/sw/internal/state"
	"github.com/brianly1003/sw/internal/tmux"
)

type fixture struct {
	orch  *Orchestrator
	store *state.Store
	git   *swexec.MockExecutor
	tmux  *swexec.MockExecutor
	cfg   *config.Resolved
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	repoRoot := filepath.Join(base, "proj")
	if err := os.MkdirAll(repoRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Resolved{
		RepoRoot:       repoRoot,
		WorktreePrefix: "proj",
		BranchPrefix:   "sw-",
		BaseDir:        base,
		MainBranch:     "main",
		LockTimeout:    time.Second,
		CaptureLines:   200,
	}

	gitExec := swexec.NewMockExecutor()
	gitExec.AddPrefixMatch("git", []string{"rev-parse", "--verify"}, swexec.MockResponse{
		Err: errors.New("exit status 1"),
	})
	tmuxExec := swexec.NewMockExecutor()

	store := state.NewStore(filepath.Join(t.TempDir(), "state-test.json"), time.Second)
	orch := New(cfg, store, git.NewManager(gitExec, cfg), tmux.NewController(tmuxExec), nil, nil, nil)
	return &fixture{orch: orch, store: store, git: gitExec, tmux: tmuxExec, cfg: cfg}
}

func TestNewWorktreeRecordsWorktreeAndSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{Prompt: "fix auth"})
	if err != nil {
		t.Fatalf("NewWorktree: %v", err)
	}
	if res.Worktree.Name != "proj-auth" {
		t.Errorf("Name = %q, want proj-auth", res.Worktree.Name)
	}
	if res.Worktree.Branch != "sw-auth" {
		t.Errorf("Branch = %q, want sw-auth", res.Worktree.Branch)
	}
	if res.Session == nil {
		t.Fatal("no session in result")
	}
	if res.Session.Status != domain.StatusStarting {
		t.Errorf("Status = %q, want starting", res.Session.Status)
	}
	if res.Session.TmuxName != "sw-proj-auth-1" {
		t.Errorf("TmuxName = %q, want sw-proj-auth-1", res.Session.TmuxName)
	}

	snap, _ := f.store.Snapshot()
	if snap.Worktree("proj-auth") == nil {
		t.Error("worktree not persisted")
	}
	if snap.RepoRoot != f.cfg.RepoRoot {
		t.Errorf("RepoRoot = %q", snap.RepoRoot)
	}

	var sawNewSession bool
	for _, call := range f.tmux.Calls() {
		if call.Name == "tmux" && call.Args[0] == "new-session" {
			sawNewSession = true
		}
	}
	if !sawNewSession {
		t.Error("tmux new-session was never invoked")
	}
}

func TestNewWorktreeBranchOverrideAdoptsExisting(t *testing.T) {
	f := newFixture(t)
	// Swap in a git mock where the explicitly named branch exists.
	f.git = swexec.NewMockExecutor()
	f.git.AddPrefixMatch("git", []string{"rev-parse", "--verify", "--quiet", "refs/heads/feature/login"}, swexec.MockResponse{
		Stdout: []byte("abc123\n"),
	})
	f.orch = New(f.cfg, f.store, git.NewManager(f.git, f.cfg), tmux.NewController(f.tmux), nil, nil, nil)

	res, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{Branch: "feature/login"})
	if err != nil {
		t.Fatalf("NewWorktree: %v", err)
	}
	if res.Worktree.Branch != "feature/login" {
		t.Errorf("Branch = %q, want feature/login", res.Worktree.Branch)
	}

	for _, call := range f.git.Calls() {
		if len(call.Args) > 1 && call.Args[0] == "worktree" && call.Args[1] == "add" {
			for _, arg := range call.Args {
				if arg == "-b" {
					t.Errorf("existing branch must be adopted, not forked: %v", call.Args)
				}
			}
		}
	}
}

func TestNewWorktreeRegistryConflict(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{}); err != nil {
		t.Fatalf("first NewWorktree: %v", err)
	}

	_, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{})
	var conflict *domain.WorktreeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want WorktreeConflictError, got %v", err)
	}
}

func TestNewWorktreeSessionFailureBecomesWarning(t *testing.T) {
	f := newFixture(t)
	f.tmux.AddPrefixMatch("tmux", []string{"new-session"}, swexec.MockResponse{
		Stderr: []byte("failed to connect to server"),
		Err:    errors.New("exit status 1"),
	})

	res, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{})
	if err != nil {
		t.Fatalf("NewWorktree must succeed without a session: %v", err)
	}
	if res.Session != nil {
		t.Error("result carries a session despite launch failure")
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a session-launch warning")
	}

	// The worktree record must exist anyway.
	snap, _ := f.store.Snapshot()
	if snap.Worktree("proj-auth") == nil {
		t.Error("worktree not persisted after session failure")
	}
}

func TestAddSessionUnknownWorktree(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.AddSession(context.Background(), "proj-nope", SessionOptions{})
	if !errors.Is(err, domain.ErrWorktreeNotFound) {
		t.Fatalf("want ErrWorktreeNotFound, got %v", err)
	}
}

func TestAddSessionPicksNextName(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{}); err != nil {
		t.Fatal(err)
	}
	// tmux reports the first session as live.
	f.tmux.AddPrefixMatch("tmux", []string{"list-sessions"}, swexec.MockResponse{
		Stdout: []byte("sw-proj-auth-1\n"),
	})

	sess, err := f.orch.AddSession(context.Background(), "proj-auth", SessionOptions{Label: "tests"})
	if err != nil {
		t.Fatalf("AddSession: %v", err)
	}
	if sess.TmuxName != "sw-proj-auth-2" {
		t.Errorf("TmuxName = %q, want sw-proj-auth-2", sess.TmuxName)
	}

	snap, _ := f.store.Snapshot()
	wt := snap.Worktree("proj-auth")
	if len(wt.Sessions) != 2 {
		t.Errorf("len(Sessions) = %d, want 2", len(wt.Sessions))
	}
}

func TestRecoverSessionForcesContinue(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.orch.RecoverSession(context.Background(), "proj-auth", SessionOptions{}); err != nil {
		t.Fatalf("RecoverSession: %v", err)
	}

	var sawContinue bool
	for _, call := range f.tmux.Calls() {
		if call.Args[0] != "new-session" {
			continue
		}
		for _, arg := range call.Args {
			if arg == "--continue" {
				sawContinue = true
			}
		}
	}
	if !sawContinue {
		t.Error("recovered session was not launched with --continue")
	}
}

func TestCleanupRoundTrip(t *testing.T) {
	f := newFixture(t)
	before, _ := f.store.Snapshot()
	if len(before.Worktrees) != 0 {
		t.Fatal("registry not empty at start")
	}

	if _, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.Cleanup(context.Background(), "proj-auth", false); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	after, _ := f.store.Snapshot()
	if len(after.Worktrees) != 0 {
		t.Errorf("registry not restored, worktrees = %v", after.Worktrees)
	}

	var sawKill, sawRemove bool
	for _, call := range f.tmux.Calls() {
		if call.Args[0] == "kill-session" {
			sawKill = true
		}
	}
	for _, call := range f.git.Calls() {
		if len(call.Args) > 1 && call.Args[0] == "worktree" && call.Args[1] == "remove" {
			sawRemove = true
		}
	}
	if !sawKill {
		t.Error("session was not killed during cleanup")
	}
	if !sawRemove {
		t.Error("git worktree remove was not invoked")
	}
}

func TestCleanupKillsSessionsCommittedConcurrently(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{}); err != nil {
		t.Fatal(err)
	}

	// Another process appends a session to the record before cleanup
	// takes the lock. Cleanup must kill it too, not just the sessions it
	// saw earlier.
	err := f.store.WithLock(context.Background(), func(record *domain.StateRecord) error {
		wt := record.Worktree("proj-auth")
		wt.Sessions = append(wt.Sessions, &domain.Session{
			ID:       "late",
			TmuxName: "sw-proj-auth-2",
			Status:   domain.StatusRunning,
		})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.orch.Cleanup(context.Background(), "proj-auth", false); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	killedNames := make(map[string]bool)
	for _, call := range f.tmux.Calls() {
		if call.Args[0] == "kill-session" {
			killedNames[call.Args[len(call.Args)-1]] = true
		}
	}
	for _, want := range []string{"=sw-proj-auth-1", "=sw-proj-auth-2"} {
		if !killedNames[want] {
			t.Errorf("session %s was not killed, kills = %v", want, killedNames)
		}
	}

	snap, _ := f.store.Snapshot()
	if snap.Worktree("proj-auth") != nil {
		t.Error("worktree record survived cleanup")
	}
}

func TestCleanupDirtyBlocked(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{}); err != nil {
		t.Fatal(err)
	}
	f.git.AddPrefixMatch("git", []string{"status", "--porcelain"}, swexec.MockResponse{
		Stdout: []byte(" M main.go\n"),
	})

	err := f.orch.Cleanup(context.Background(), "proj-auth", false)
	var dirty *domain.WorktreeDirtyError
	if !errors.As(err, &dirty) {
		t.Fatalf("want WorktreeDirtyError, got %v", err)
	}

	// Refused cleanup must leave the registry untouched.
	snap, _ := f.store.Snapshot()
	if snap.Worktree("proj-auth") == nil {
		t.Error("worktree dropped despite refused cleanup")
	}

	if err := f.orch.Cleanup(context.Background(), "proj-auth", true); err != nil {
		t.Fatalf("forced Cleanup: %v", err)
	}
}

func TestCleanupUnknownWorktree(t *testing.T) {
	f := newFixture(t)
	err := f.orch.Cleanup(context.Background(), "proj-nope", false)
	if !errors.Is(err, domain.ErrWorktreeNotFound) {
		t.Fatalf("want ErrWorktreeNotFound, got %v", err)
	}
}

func TestRenameSession(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.orch.RenameSession(context.Background(), res.Session.ID, "auth refactor"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	snap, _ := f.store.Snapshot()
	_, sess := snap.FindSession(res.Session.ID)
	if sess.Label != "auth refactor" {
		t.Errorf("Label = %q", sess.Label)
	}

	if err := f.orch.RenameSession(context.Background(), "missing-id", "x"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("want ErrSessionNotFound, got %v", err)
	}
}

func TestAttachSessionDead(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	f.tmux.AddPrefixMatch("tmux", []string{"has-session"}, swexec.MockResponse{
		Err: errors.New("exit status 1"),
	})

	_, err = f.orch.AttachSession(context.Background(), res.Session.ID)
	if !errors.Is(err, domain.ErrSessionDead) {
		t.Fatalf("want ErrSessionDead, got %v", err)
	}
}

func TestAttachSessionByTmuxName(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}

	cmd, err := f.orch.AttachSession(context.Background(), res.Session.TmuxName)
	if err != nil {
		t.Fatalf("AttachSession: %v", err)
	}
	if cmd == nil {
		t.Fatal("nil attach command")
	}
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.NewWorktree(context.Background(), "auth", SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.NewWorktree(context.Background(), "gone", SessionOptions{}); err != nil {
		t.Fatal(err)
	}

	// git only knows about proj-auth now; tmux lost the session.
	f.git.AddPrefixMatch("git", []string{"worktree", "list"}, swexec.MockResponse{
		Stdout: []byte("worktree " + f.cfg.RepoRoot + "\nbranch refs/heads/main\n\nworktree " + res.Worktree.Path + "\nbranch refs/heads/sw-auth\n"),
	})
	f.tmux.AddPrefixMatch("tmux", []string{"has-session"}, swexec.MockResponse{
		Err: errors.New("exit status 1"),
	})

	if err := f.orch.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	snap, _ := f.store.Snapshot()
	if snap.Worktree("proj-gone") != nil {
		t.Error("vanished worktree still registered")
	}
	wt := snap.Worktree("proj-auth")
	if wt == nil {
		t.Fatal("surviving worktree dropped")
	}
	if wt.Sessions[0].Status != domain.StatusDead {
		t.Errorf("session status = %q, want dead", wt.Sessions[0].Status)
	}
}

func TestReconcileAdoptsUntrackedWorktree(t *testing.T) {
	f := newFixture(t)

	// git knows two worktrees sw never recorded: one follows the naming
	// convention and must be adopted, the other is none of our business.
	extraPath := filepath.Join(f.cfg.BaseDir, "proj-extra")
	scratchPath := filepath.Join(f.cfg.BaseDir, "scratch")
	f.git.AddPrefixMatch("git", []string{"worktree", "list"}, swexec.MockResponse{
		Stdout: []byte("worktree " + f.cfg.RepoRoot + "\nbranch refs/heads/main\n\n" +
			"worktree " + extraPath + "\nbranch refs/heads/sw-extra\n\n" +
			"worktree " + scratchPath + "\nbranch refs/heads/experiment\n"),
	})

	if err := f.orch.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	snap, _ := f.store.Snapshot()
	wt := snap.Worktree("proj-extra")
	if wt == nil {
		t.Fatal("prefix-matching worktree was not adopted")
	}
	if wt.Branch != "sw-extra" {
		t.Errorf("Branch = %q, want sw-extra", wt.Branch)
	}
	if wt.Path != extraPath {
		t.Errorf("Path = %q, want %q", wt.Path, extraPath)
	}
	if snap.Worktree("scratch") != nil {
		t.Error("non-prefixed worktree must not be adopted")
	}
}
