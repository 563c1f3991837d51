package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Ledger and loan consistency service",
	Long: `ledgerd runs the ledger service: money movement between accounts, loans with
tiered interest, and the background job that accrues interest on active loans.
Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config-path", ".", "Directory searched for an optional .env file")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
