package cmd

import (
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach <session>",
	Short: "Attach the terminal to an agent session",
	Long: `Hands the current terminal over to a session's tmux client. The
session may be named by its ID or its tmux session name (as shown by
sw list). Detach with the usual tmux binding (ctrl-b d).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, nil)
		if err != nil {
			return err
		}
		attach, err := rt.orch.AttachSession(ctx, args[0])
		if err != nil {
			return err
		}
		return attach.Run()
	},
}
