package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Request cancellation of all running agents",
	Long: `Drop the cancellation marker in the artifact directory. Each agent
notices it at its next decision point, after the in-flight cycle's commit
has completed, so no work is discarded.

Examples:
  cyctl cancel --dir /srv/build/.cycled`,
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if store.CancelRequested() {
		fmt.Fprintln(cmd.OutOrStdout(), "cancellation already requested")
		return nil
	}
	if err := store.RequestCancel(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "cancellation requested")
	return nil
}
