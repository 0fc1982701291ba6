package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ripplesched/ripple/internal/history"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show one run's task outcomes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.HistoryPath == "" {
				return fmt.Errorf("no history_path configured")
			}

			ctx := context.Background()
			store, err := history.NewSQLiteStore(ctx, cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, store, args[0])
			}
			return listRuns(cmd, store, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	return cmd
}

func listRuns(cmd *cobra.Command, store history.Store, limit int) error {
	runs, err := store.ListRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
		return nil
	}

	w := cmd.OutOrStdout()
	for _, r := range runs {
		status := "running"
		if !r.FinishedAt.IsZero() {
			status = fmt.Sprintf("%d ok, %d failed, %d blocked, score %.2f",
				r.Completed, r.Failed, r.Blocked, r.Score)
		}
		fmt.Fprintf(w, "%s  %s  %-20s %s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.PlanName, status)
	}
	return nil
}

func showRun(cmd *cobra.Command, store history.Store, runID string) error {
	ctx := context.Background()
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	outcomes, err := store.GetOutcomes(ctx, runID)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run %s (%s), started %s\n", run.ID, run.PlanName,
		run.StartedAt.Local().Format(time.DateTime))
	for _, o := range outcomes {
		mark := "ok  "
		if !o.Success {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  %s %-20s %-20s %s on %s\n", mark, o.TaskID, o.Reason,
			o.Duration.Round(time.Millisecond), o.AgentID)
	}
	return nil
}
