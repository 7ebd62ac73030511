package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "apsflowd",
	Short: "Design Automation webhook receiver",
	Long: `apsflowd receives work item callbacks from the Design Automation job
service, records them in the ledger and serves the ledger over HTTP.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
