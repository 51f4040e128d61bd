// Package main implements the cyctl CLI for inspecting a cycled artifact
// directory and its configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cycled/internal/artifact"
)

var (
	artifactDir string
	version     = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "cyctl",
	Short: "Inspect cycled agents and artifacts",
	Long: `cyctl is the operator's window into a cycled roster: live agent
states, published handoffs, roster validation, and cancellation.`,
	Version: version,

	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&artifactDir, "dir", ".cycled", "artifact directory")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(handoffCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(cancelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openStore() (*artifact.Store, error) {
	if _, err := os.Stat(artifactDir); err != nil {
		return nil, fmt.Errorf("artifact directory %s: %w", artifactDir, err)
	}
	return artifact.NewStore(artifactDir, zap.NewNop())
}
