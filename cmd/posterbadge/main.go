package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	rootCmd    = &cobra.Command{
		Use:   "posterbadge",
		Short: "posterbadge - batch poster badge orchestrator",
		Long: `posterbadge runs batches of poster enhancement jobs against a badge
rendering engine, tracks their progress and lets you pause, resume,
cancel and restart them from the command line or a TUI dashboard.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (defaults to the configured web address)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
