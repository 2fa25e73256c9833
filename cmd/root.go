package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "siphon",
	Short: "Siphon - automatic media importing",
	Long:  `Siphon watches directories for new media files and imports them, deduplicating by content and remembering what it has already processed.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "siphon.yaml", "path to the YAML configuration file")
}

func Execute() error {
	return rootCmd.Execute()
}
