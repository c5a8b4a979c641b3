package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brianly1003/sw/internal/domain"
	"github.com/brianly1003/sw/internal/orchestrator"
)

var (
	addPrompt          string
	addLabel           string
	addSkipPermissions bool
	addContinue        bool
)

var addCmd = &cobra.Command{
	Use:   "add <worktree>",
	Short: "Start another agent session in an existing worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, nil)
		if err != nil {
			return err
		}

		opts := orchestrator.SessionOptions{
			Label:           addLabel,
			Prompt:          addPrompt,
			SkipPermissions: addSkipPermissions,
		}
		var sess *domain.Session
		if addContinue {
			sess, err = rt.orch.RecoverSession(ctx, args[0], opts)
		} else {
			sess, err = rt.orch.AddSession(ctx, args[0], opts)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Session %s started in %s\n", sess.TmuxName, args[0])
		fmt.Printf("Attach with: sw attach %s\n", sess.TmuxName)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVarP(&addPrompt, "prompt", "p", "", "initial prompt passed to the agent")
	addCmd.Flags().StringVarP(&addLabel, "label", "l", "", "human-readable session label")
	addCmd.Flags().BoolVar(&addSkipPermissions, "skip-permissions", false, "launch the agent with permission prompts disabled")
	addCmd.Flags().BoolVarP(&addContinue, "continue", "c", false, "resume the agent's previous conversation in this worktree")
}
