package main

import (
	"fmt"
	"os"

	"github.com/Sternrassler/reportstream/internal/config"
	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "0.1.0"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reportstream",
		Short: "Stream paginated reports into aggregate snapshots",
		Long: `reportstream fetches paginated report data under bounded memory and
reduces it to per-report statistics without keeping raw rows.

Requests are scheduled with adaptive global and per-report concurrency,
retried with exponential backoff, and cancelled as a whole on
authorization failures. The API token is read from REPORTSTREAM_TOKEN.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (default "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	cmd.PersistentFlags().Bool("pretty", false, "human-readable log output")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewRunsCmd())
	cmd.AddCommand(NewSnapshotCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("pretty") {
		cfg.LogPretty, _ = f.GetBool("pretty")
	}
	return cfg, nil
}
