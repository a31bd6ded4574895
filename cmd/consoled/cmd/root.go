package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "consoled",
	Short: "Local debug console for edge components",
	Long: `consoled serves a WebSocket console for inspecting and controlling the
components running on a device.

Available commands:
  serve            Start the console server
  hash-password    Print a bcrypt hash for CONSOLE_PASSWORD_HASH
  version          Print the version

Use "consoled [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
