package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	listJSON    bool
	listHistory bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees and their sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, nil)
		if err != nil {
			return err
		}

		// Align the registry with git and tmux before showing it; worktrees
		// and sessions removed out-of-band are expected. Liveness only: a
		// one-shot process has no snapshot memory, so classifying pane
		// content here would misread idle sessions as freshly active.
		if err := rt.orch.Reconcile(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: reconcile failed: %v\n", err)
		}
		if err := rt.orch.Detector().TickLiveness(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: status refresh failed: %v\n", err)
		}

		entries, err := rt.orch.List(ctx)
		if err != nil {
			return err
		}

		if listJSON {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}

		if len(entries) == 0 {
			fmt.Println("No worktrees. Create one with: sw new <name>")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WORKTREE\tBRANCH\t+/-\tDIRTY\tSESSION\tSTATUS\tLABEL")
		for _, entry := range entries {
			wt := entry.Worktree
			dirty := ""
			if entry.Dirty {
				dirty = "*"
			}
			div := fmt.Sprintf("+%d/-%d", entry.Ahead, entry.Behind)
			if len(wt.Sessions) == 0 {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t-\t-\t\n", wt.Name, wt.Branch, div, dirty)
				continue
			}
			for i, sess := range wt.Sessions {
				name, branch, d := wt.Name, wt.Branch, div
				if i > 0 {
					name, branch, d, dirty = "", "", "", ""
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					name, branch, d, dirty, sess.TmuxName, sess.Status, sess.Label)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if listHistory {
			return printHistory(rt)
		}
		return nil
	},
}

func printHistory(rt *runtime) error {
	hist, err := openHistory(rt.cfg)
	if err != nil {
		return err
	}
	defer hist.Close()

	transitions, err := hist.Recent(20)
	if err != nil {
		return err
	}
	if len(transitions) == 0 {
		return nil
	}

	fmt.Println("\nRecent status transitions:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tWORKTREE\tSESSION\tTRANSITION")
	for _, tr := range transitions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s -> %s\n",
			tr.At.Local().Format("15:04:05"), tr.Worktree, tr.TmuxName, tr.FromStatus, tr.ToStatus)
	}
	return w.Flush()
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "emit machine-readable JSON")
	listCmd.Flags().BoolVar(&listHistory, "history", false, "also show recent status transitions")
}
