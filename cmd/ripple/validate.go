package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ripplesched/ripple/internal/plan"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.toml>",
		Short: "Check a plan file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			g, err := p.Graph()
			if err != nil {
				return err
			}
			order, err := g.Order()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tasks, valid\n", planName(p, args[0]), len(order))
			fmt.Fprintf(cmd.OutOrStdout(), "execution order: %s\n", strings.Join(order, " -> "))
			return nil
		},
	}
}
