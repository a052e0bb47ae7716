package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "bonder",
		Short:        "Lorenzo CCTP bridge bonder",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "./config.yml", "config file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(StartCmd(), DBDumpCmd(), UnrelayedCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
