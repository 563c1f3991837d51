package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(accrueCmd)
}

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Run a single interest accrual pass and exit",
	Long: `Accrue interest once on every active loan using the configured interval as the
elapsed time, then exit.`,
	Args: cobra.NoArgs,
	RunE: runAccrue,
}

func runAccrue(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	updated, err := rt.newAccrual().ProcessOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "accrued interest on %d loans\n", updated)
	return nil
}
