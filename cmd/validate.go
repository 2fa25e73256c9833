package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Siphon/internal"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without importing anything",
	Long: `Loads the configuration file and verifies that every watch points at an
accessible directory and that it's owner, channel and categories resolve
against the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := internal.SiphonConfig{}
		if err := config.LoadFromFile(configPath); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		siphon := internal.New(config)
		if err := siphon.Validate(ctx); err != nil {
			return err
		}

		fmt.Println("Configuration OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
