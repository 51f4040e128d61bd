package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var handoffCmd = &cobra.Command{
	Use:   "handoff <agent>",
	Short: "Print an agent's published handoff artifact",
	Long: `Print the handoff artifact a terminal agent published, as JSON.

Examples:
  cyctl handoff builder
  cyctl handoff builder --dir /srv/build/.cycled`,
	Args: cobra.ExactArgs(1),
	RunE: runHandoff,
}

func runHandoff(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	handoff, err := store.ReadHandoff(args[0])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(handoff, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
