package cli

import (
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire every document whose expiry has passed",
	Long: `Runs a single expiry sweep and exits. Use it from cron when the server
runs with sweep_interval = 0, or with several workers sharing a Redis lock.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.workflow.SweepExpired(cmd.Context())
	cmd.Printf("Expired %d documents.\n", n)
	return err
}
