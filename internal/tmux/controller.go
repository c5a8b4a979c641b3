// Package tmux drives the tmux CLI to create, inspect, and tear down the
// detached sessions that host coding-agent processes. tmux, not the
// registry, is the source of truth for whether a session is alive.
package tmux

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/sw/internal/domain"
	"github.com/brianly1003/sw/internal/domain/ports"
	swexec "github.com/brianly1003/sw/internal/exec"
)

// DefaultSessionPrefix namespaces sw-managed tmux sessions away from the
// user's own.
const DefaultSessionPrefix = "sw"

// agentCommand is the coding-agent binary launched inside each session.
const agentCommand = "claude"

// LaunchSpec describes the agent process to start inside a new session.
type LaunchSpec struct {
	WorkDir         string
	InitialPrompt   string
	SkipPermissions bool
	Continue        bool
}

// Controller performs tmux operations for sw-managed sessions.
type Controller struct {
	executor swexec.CommandExecutor
	prefix   string
}

// NewController creates a tmux controller.
func NewController(executor swexec.CommandExecutor) *Controller {
	return &Controller{executor: executor, prefix: DefaultSessionPrefix}
}

func (c *Controller) tmux(ctx context.Context, op string, args ...string) ([]byte, error) {
	stdout, stderr, err := c.executor.Run(ctx, "", "tmux", args...)
	if err != nil {
		return nil, domain.NewExternalToolError("tmux", op, stderr, err)
	}
	return stdout, nil
}

// BuildAgentCommand constructs the agent argv for a launch spec.
func BuildAgentCommand(spec LaunchSpec) []string {
	argv := []string{agentCommand}
	if spec.SkipPermissions {
		argv = append(argv, "--dangerously-skip-permissions")
	}
	if spec.Continue {
		argv = append(argv, "--continue")
	}
	if spec.InitialPrompt != "" {
		argv = append(argv, spec.InitialPrompt)
	}
	return argv
}

// SessionName builds the canonical tmux session name for a worktree's
// nth session.
func (c *Controller) SessionName(worktree string, index int) string {
	return fmt.Sprintf("%s-%s-%d", c.prefix, worktree, index)
}

// NextSessionName returns the lowest unused session name for a worktree,
// checked against the sessions tmux actually has.
func (c *Controller) NextSessionName(ctx context.Context, worktree string) (string, error) {
	existing, err := c.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(existing))
	for _, name := range existing {
		taken[name] = true
	}
	for i := 1; ; i++ {
		name := c.SessionName(worktree, i)
		if !taken[name] {
			return name, nil
		}
	}
}

// NewSession starts a detached session running the agent command in the
// given working directory.
func (c *Controller) NewSession(ctx context.Context, name string, spec LaunchSpec) error {
	args := []string{
		"new-session", "-d",
		"-s", name,
		"-c", spec.WorkDir,
		"-e", "SW_SESSION_NAME=" + name,
		"-e", "TERM=xterm-256color",
	}
	args = append(args, BuildAgentCommand(spec)...)
	if _, err := c.tmux(ctx, "new-session", args...); err != nil {
		return err
	}
	log.Info().Str("session", name).Str("dir", spec.WorkDir).Msg("tmux session started")
	return nil
}

// HasSession reports whether the named session exists. The leading "="
// forces exact matching; tmux otherwise treats the target as a prefix.
func (c *Controller) HasSession(ctx context.Context, name string) bool {
	_, _, err := c.executor.Run(ctx, "", "tmux", "has-session", "-t", "="+name)
	return err == nil
}

// KillSession terminates a session. Killing an already-dead session is
// not an error.
func (c *Controller) KillSession(ctx context.Context, name string) error {
	if !c.HasSession(ctx, name) {
		return nil
	}
	_, err := c.tmux(ctx, "kill-session", "kill-session", "-t", "="+name)
	return err
}

// RenameSession renames a session.
func (c *Controller) RenameSession(ctx context.Context, oldName, newName string) error {
	_, err := c.tmux(ctx, "rename-session", "rename-session", "-t", "="+oldName, newName)
	return err
}

// ListSessions returns the names of all sw-managed sessions. No running
// tmux server means no sessions, not an error.
func (c *Controller) ListSessions(ctx context.Context) ([]string, error) {
	stdout, _, err := c.executor.Run(ctx, "", "tmux", "list-sessions", "-F", "#{session_name}")
	if err != nil {
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(string(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.HasPrefix(line, c.prefix+"-") {
			names = append(names, line)
		}
	}
	return names, nil
}

// CapturePane returns the last lines of visible pane content plus
// scrollback, bounded by lines.
func (c *Controller) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	out, err := c.tmux(ctx, "capture-pane",
		"capture-pane", "-t", "="+name, "-p", "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// AttachCommand returns a ready-to-run command that attaches the calling
// terminal to a session. Attachment needs the real TTY, so this bypasses
// the captured-output executor; the caller runs it in the foreground.
func (c *Controller) AttachCommand(name string) *osexec.Cmd {
	cmd := osexec.Command("tmux", "attach-session", "-t", "="+name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

var _ ports.Multiplexer = (*Controller)(nil)
