package config

import (
	"context"
	"strings"

	"github.com/brianly1003/sw/internal/domain"
	swexec "github.com/brianly1003/sw/internal/exec"
)

// DetectRepoRoot resolves the root of the git repository containing dir.
// Returns domain.ErrNotGitRepo when dir is not inside a work tree.
func DetectRepoRoot(ctx context.Context, executor swexec.CommandExecutor, dir string) (string, error) {
	out, err := executor.Output(ctx, dir, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		return "", domain.ErrNotGitRepo
	}
	root := strings.TrimSpace(string(out))
	if root == "" {
		return "", domain.ErrNotGitRepo
	}
	return root, nil
}

// DetectRemote picks the remote to track: "origin" when configured,
// otherwise the first listed remote, otherwise empty.
func DetectRemote(ctx context.Context, executor swexec.CommandExecutor, repoRoot string) string {
	out, err := executor.Output(ctx, repoRoot, "git", "remote")
	if err != nil {
		return ""
	}
	remotes := strings.Fields(string(out))
	if len(remotes) == 0 {
		return ""
	}
	for _, r := range remotes {
		if r == "origin" {
			return r
		}
	}
	return remotes[0]
}

// DetectMainBranch determines the integration branch. The remote HEAD
// symbolic ref wins when a remote is configured; otherwise whichever of
// main or master exists locally; otherwise "main".
func DetectMainBranch(ctx context.Context, executor swexec.CommandExecutor, repoRoot, remote string) string {
	if remote != "" {
		out, err := executor.Output(ctx, repoRoot, "git", "symbolic-ref", "--short", "refs/remotes/"+remote+"/HEAD")
		if err == nil {
			ref := strings.TrimSpace(string(out))
			if name, ok := strings.CutPrefix(ref, remote+"/"); ok && name != "" {
				return name
			}
		}
	}
	for _, candidate := range []string{"main", "master"} {
		_, err := executor.Output(ctx, repoRoot, "git", "rev-parse", "--verify", "--quiet", "refs/heads/"+candidate)
		if err == nil {
			return candidate
		}
	}
	return "main"
}
