// Eiscpctl is a control utility for Onkyo and Integra network receivers.
//
// It provides receiver discovery, one-shot command sending, and a live
// monitor mode that follows a receiver's status updates. Communication
// uses the eISCP protocol over the local network; no vendor software is
// required.
//
// Usage:
//
//	eiscpctl [command] [flags]
//
// See 'eiscpctl --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avrkit/eiscp/internal/logging"
	"github.com/avrkit/eiscp/internal/version"
)

func main() {
	logging.InitializeFromEnv()
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eiscpctl",
	Short: "Onkyo/Integra Receiver Control Utility",
	Long: `A standalone utility for controlling Onkyo and Integra network
receivers over eISCP.

Provides receiver discovery, one-shot command sending, and a live
monitor mode that follows a receiver's status updates.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("eiscpctl %s (commit: %s)\n", version.Version, version.Commit)
	},
}
