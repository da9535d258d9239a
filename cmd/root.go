// Package cmd defines and implements the CLI commands for the stagetracker
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-stage-tracker/internal/logging"
)

var cfgFile string

// newRootCmd creates the root command and attaches every subcommand.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stagetracker",
		Short: "Tracks how long events spend between processing stages.",
		Long: `stagetracker stamps events as they pass named steps, keeps an ordered
ledger of those steps, and measures the elapsed milliseconds between the
current step and every earlier one. It runs as an HTTP service or offline
over JSON lines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newLintCmd())
	cmd.AddCommand(newSplitCmd())
	cmd.AddCommand(newJoinCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	logger, err := logging.New(false, "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	if err := newRootCmd().Execute(); err != nil {
		zap.L().Fatal("command execution failed", zap.Error(err))
	}
}
