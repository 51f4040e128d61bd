package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cycled/internal/config"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file and its roster",
	Long: `Load a configuration file and check the roster: unique names,
positive budgets, known restart modes, and an acyclic dependency graph.

Examples:
  cyctl validate --config cycled.yaml`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "cycled.yaml", "path to configuration file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load validates both the runtime config and the roster.
	cfg, err := config.Load(validateConfigPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d agent(s))\n", validateConfigPath, len(cfg.Agents))
	return nil
}
