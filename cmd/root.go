// Package cmd defines the CLI commands for the keysweep executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keysweep",
		Short: "Continuously sweeps public code search for leaked provider API keys.",
		Long: `keysweep crawls GitHub code search for leaked generative-AI API keys,
validates each candidate against the provider, journals the findings, and
syncs confirmed keys to the configured downstream balancer services.
Progress is checkpointed so a restart resumes where the last run stopped.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars with the KEYSWEEP_ prefix override it)")
	cmd.AddCommand(newSweepCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
