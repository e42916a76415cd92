package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meterd",
	Short: "Usage metering and threshold billing service",
	Long: `meterd tracks metered feature consumption (AI credits, scheduled
posts, storage), authorizes actions against the user's plan, and reports
usage to the remote billing authority.

Quick start:
  meterd serve      # Start the metering API server

Management:
  meterd validate   # Validate configuration
  meterd usage      # Show a user's current usage and cost
  meterd rollover   # Close a user's expired billing period`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "meterd.yaml", "config file path")
}
