package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brianly1003/sw/internal/orchestrator"
)

var (
	newPrompt          string
	newLabel           string
	newBranch          string
	newSkipPermissions bool
)

var newCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a worktree and start an agent session in it",
	Long: `Creates a git worktree named <prefix>-<name> on a fresh branch
<branch_prefix><name>, materializes the configured symlinks and copies,
runs the post-create hook, and starts a detached agent session inside.

With --branch the worktree uses that branch instead: an existing branch
is checked out as-is (resuming earlier work), a missing one is created.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, nil)
		if err != nil {
			return err
		}
		registerProject(rt.cfg)

		res, err := rt.orch.NewWorktree(ctx, args[0], orchestrator.SessionOptions{
			Label:           newLabel,
			Prompt:          newPrompt,
			Branch:          newBranch,
			SkipPermissions: newSkipPermissions,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Created worktree %s (branch %s) at %s\n",
			res.Worktree.Name, res.Worktree.Branch, res.Worktree.Path)
		if res.Session != nil {
			fmt.Printf("Session %s started\n", res.Session.TmuxName)
			fmt.Printf("Attach with: sw attach %s\n", res.Session.TmuxName)
		}
		for _, warning := range res.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
		}
		return nil
	},
}

func init() {
	newCmd.Flags().StringVarP(&newPrompt, "prompt", "p", "", "initial prompt passed to the agent")
	newCmd.Flags().StringVarP(&newLabel, "label", "l", "", "human-readable session label")
	newCmd.Flags().StringVarP(&newBranch, "branch", "b", "", "branch for the worktree (adopted if it exists, created if not)")
	newCmd.Flags().BoolVar(&newSkipPermissions, "skip-permissions", false, "launch the agent with permission prompts disabled")
}
