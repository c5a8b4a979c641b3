// Package cmd contains the CLI commands for sw.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/brianly1003/sw/internal/config"
	swexec "github.com/brianly1003/sw/internal/exec"
	"github.com/brianly1003/sw/internal/git"
	"github.com/brianly1003/sw/internal/history"
	"github.com/brianly1003/sw/internal/orchestrator"
	"github.com/brianly1003/sw/internal/state"
	"github.com/brianly1003/sw/internal/tmux"
)

var (
	// Version info (set from main)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"

	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sw",
	Short: "Parallel coding sessions on git worktrees",
	Long: `sw manages isolated coding-agent sessions, one git worktree per task.

Each task gets its own worktree and branch plus a detached tmux session
running the agent, so several tasks proceed in parallel without touching
your main checkout. sw tracks every session's status (running, waiting
for input, waiting for approval) so you know which one needs you.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information from the main package.
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd displays version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sw %s\n", version)
		fmt.Printf("  Build time: %s\n", buildTime)
		fmt.Printf("  Git commit: %s\n", gitCommit)
	},
}

// runtime bundles the wired core for one CLI invocation.
type runtime struct {
	cfg   *config.Resolved
	store *state.Store
	orch  *orchestrator.Orchestrator
}

// buildRuntime resolves config for the repository containing the working
// directory and wires the orchestrator. One-shot commands pass no hub and
// no history log; serve wires its own.
func buildRuntime(ctx context.Context, logger *slog.Logger) (*runtime, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	executor := swexec.NewRealExecutor()
	cfg, err := config.Resolve(ctx, executor, cwd)
	if err != nil {
		return nil, err
	}
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, err
	}
	store := state.NewStore(state.PathFor(stateDir, cfg.StateHash()), cfg.LockTimeout)
	orch := orchestrator.New(cfg, store,
		git.NewManager(executor, cfg),
		tmux.NewController(executor),
		nil, nil, logger)
	return &runtime{cfg: cfg, store: store, orch: orch}, nil
}

// openHistory opens this project's transition log.
func openHistory(cfg *config.Resolved) (*history.Log, error) {
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, err
	}
	return history.Open(history.PathFor(stateDir, cfg.StateHash()))
}

// registerProject records the repo in the global projects registry so
// cross-project tooling can find it. Failures are not fatal.
func registerProject(cfg *config.Resolved) {
	reg, err := config.NewProjectRegistry()
	if err != nil {
		return
	}
	if _, err := reg.Register(cfg.RepoRoot); err != nil {
		log.Debug().Err(err).Msg("project registration failed")
	}
}
