package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename <session-id> <label>",
	Short: "Set a session's human-readable label",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, nil)
		if err != nil {
			return err
		}
		if err := rt.orch.RenameSession(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Session %s labeled %q\n", args[0], args[1])
		return nil
	},
}
