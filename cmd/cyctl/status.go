package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live state of every agent",
	Long: `Show each agent's persisted state, cycle count, and pass rate.

Examples:
  cyctl status
  cyctl status --dir /srv/build/.cycled`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	records, err := store.ListStatus()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no agents have started")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATE\tCYCLE\tPASS RATE\tUPDATED\tREASON")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f%%\t%s\t%s\n",
			rec.Agent,
			rec.State,
			rec.Cycle,
			rec.PassRate,
			rec.UpdatedAt.Format("15:04:05"),
			rec.Reason,
		)
	}
	return w.Flush()
}
