package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupForce bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <worktree>",
	Short: "Kill a worktree's sessions and remove the worktree",
	Long: `Kills every agent session in the worktree, removes the git worktree,
and drops it from the registry. Uncommitted changes block removal unless
--force is given. The branch is kept unless git.delete_branch_on_cleanup
is enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, nil)
		if err != nil {
			return err
		}
		if err := rt.orch.Cleanup(ctx, args[0], cleanupForce); err != nil {
			return err
		}
		fmt.Printf("Removed worktree %s\n", args[0])
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "remove even with uncommitted changes")
}
