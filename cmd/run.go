package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Siphon/internal"
	"github.com/spf13/cobra"
)

var (
	runOnce   bool
	runDryRun bool
	runForce  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start watching configured directories and importing media",
	Long: `Starts the import service using the watches defined in the configuration
file. By default this runs until interrupted; pass --once to perform a
single scan-and-import pass over every watch and exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := internal.SiphonConfig{}
		if err := config.LoadFromFile(configPath); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		siphon := internal.New(config)
		if runOnce || runDryRun {
			return siphon.RunOnce(ctx, runDryRun, runForce)
		}

		return siphon.Run(ctx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "scan each watch a single time and exit")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "report what would be imported without writing anything (implies --once)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "process files even when the ledger records a previous import")

	rootCmd.AddCommand(runCmd)
}
