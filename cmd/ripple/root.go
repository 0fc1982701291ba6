package main

import (
	"github.com/spf13/cobra"

	"github.com/ripplesched/ripple/internal/config"
)

var configPath string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ripple",
		Short: "Adaptive task graph scheduler",
		Long: `Ripple runs dependency graphs of tasks across a pool of agents.
Task priorities adapt to outcomes: finishing under estimate raises a
task's weight, failures lower it, and every adjustment propagates
backward along dependency edges. Agent slot allocations follow a
health score derived from a sliding window of runtime metrics.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (TOML); RIPPLE_* env vars override")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(historyCmd())
	return cmd
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
