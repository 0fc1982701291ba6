package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ripplesched/ripple/internal/agent"
	"github.com/ripplesched/ripple/internal/config"
	"github.com/ripplesched/ripple/internal/events"
	"github.com/ripplesched/ripple/internal/graph"
	"github.com/ripplesched/ripple/internal/history"
	"github.com/ripplesched/ripple/internal/monitor"
	"github.com/ripplesched/ripple/internal/plan"
	"github.com/ripplesched/ripple/internal/scheduler"
)

func runCmd() *cobra.Command {
	var (
		agentCount int
		simulate   bool
		simScale   int
		watch      bool
		workDir    string
	)

	cmd := &cobra.Command{
		Use:   "run <plan.toml>",
		Short: "Execute a task plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runPlan(cfg, args[0], runOptions{
				agentCount: agentCount,
				simulate:   simulate,
				simScale:   simScale,
				watch:      watch,
				workDir:    workDir,
			})
		},
	}

	cmd.Flags().IntVar(&agentCount, "agents", 0, "number of agents to register (default: max_agents from config)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "sleep for each task's cost hint instead of running commands")
	cmd.Flags().IntVar(&simScale, "sim-scale", 1, "divide simulated durations by this factor")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-read the plan on change and submit new tasks to the live run")
	cmd.Flags().StringVar(&workDir, "workdir", "", "working directory for task commands")
	return cmd
}

type runOptions struct {
	agentCount int
	simulate   bool
	simScale   int
	watch      bool
	workDir    string
}

func runPlan(cfg *config.Config, planPath string, opts runOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	g, err := p.Graph()
	if err != nil {
		return err
	}

	pm := agent.NewProcessManager()
	var exec agent.Executor
	if opts.simulate {
		exec = agent.SimulatedExecutor{Scale: opts.simScale}
	} else {
		exec = agent.NewShellExecutor(pm, opts.workDir)
	}

	n := opts.agentCount
	if n <= 0 {
		n = cfg.MaxAgents
	}
	pool := agent.NewPool(cfg.Retry)
	for i := 1; i <= n; i++ {
		// Descending base priorities so a degraded health score has
		// somewhere to concentrate slots.
		pool.Register(monitor.AgentInfo{
			ID:           fmt.Sprintf("agent-%d", i),
			BasePriority: float64(n - i + 1),
		}, exec)
	}

	bus := events.NewBus()
	defer bus.Close()

	sched := scheduler.New(cfg, g, pool, bus)

	var store history.Store
	var runID string
	if cfg.HistoryPath != "" {
		s, err := history.NewSQLiteStore(ctx, cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer s.Close()
		store = s

		runID, err = store.BeginRun(ctx, planName(p, planPath))
		if err != nil {
			return fmt.Errorf("recording run: %w", err)
		}
		rec := history.NewRecorder(ctx, store, runID, bus)
		// Close the bus before waiting so the recorder drains its
		// buffered events and exits.
		defer func() {
			bus.Close()
			<-rec.Done()
		}()
	}

	if opts.watch {
		w, err := plan.Watch(ctx, planPath)
		if err != nil {
			return err
		}
		go func() {
			for rev := range w.Plans {
				submitRevision(sched, g, rev)
			}
		}()
	}

	// A second signal must not be swallowed; restore default handling
	// and kill tracked subprocess groups once the first one arrives.
	go func() {
		<-ctx.Done()
		stop()
		time.AfterFunc(10*time.Second, func() {
			log.Println("Shutdown timeout exceeded, killing subprocesses")
			if err := pm.KillAll(); err != nil {
				log.Printf("Error killing subprocesses: %v", err)
			}
		})
	}()

	sum, runErr := sched.Run(ctx)

	if store != nil {
		// The run context may already be cancelled; give persistence
		// its own deadline.
		finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.FinishRun(finishCtx, runID, sum); err != nil {
			log.Printf("WARNING: recording run summary: %v", err)
		}
	}

	printSummary(os.Stdout, sum, sched.Results())
	if runErr != nil {
		return runErr
	}
	if sum.Failed > 0 || sum.Blocked > 0 {
		return fmt.Errorf("%d tasks failed, %d blocked", sum.Failed, sum.Blocked)
	}
	return nil
}

// submitRevision feeds new tasks from an edited plan into the live
// scheduler, dependency-first. Tasks already known keep running
// untouched; a revision that breaks ordering is logged and skipped.
func submitRevision(sched *scheduler.Scheduler, g *graph.Graph, rev *plan.Plan) {
	ordered, err := rev.Ordered()
	if err != nil {
		log.Printf("WARNING: ignoring plan revision: %v", err)
		return
	}
	for _, spec := range ordered {
		if _, exists := g.Get(spec.ID); exists {
			continue
		}
		if err := sched.Submit(spec.Task()); err != nil {
			log.Printf("WARNING: submitting revised task %s: %v", spec.ID, err)
			continue
		}
		log.Printf("Submitted task %s from revised plan", spec.ID)
	}
}

func planName(p *plan.Plan, path string) string {
	if p.Name != "" {
		return p.Name
	}
	return path
}

func sortedResults(results map[string]scheduler.Result) []scheduler.Result {
	out := make([]scheduler.Result, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
