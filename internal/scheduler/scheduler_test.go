package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ripplesched/ripple/internal/agent"
	"github.com/ripplesched/ripple/internal/config"
	"github.com/ripplesched/ripple/internal/events"
	"github.com/ripplesched/ripple/internal/graph"
	"github.com/ripplesched/ripple/internal/monitor"
	"github.com/ripplesched/ripple/internal/weights"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TaskTimeout = 5 * time.Second
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 5 * time.Millisecond
	cfg.Retry.MaxElapsedTime = 100 * time.Millisecond
	return cfg
}

func singleAgentPool(cfg *config.Config, exec agent.Executor) *agent.Pool {
	pool := agent.NewPool(cfg.Retry)
	pool.Register(monitor.AgentInfo{ID: "a1", BasePriority: 1}, exec)
	return pool
}

func noopExec() agent.Executor {
	return agent.ExecutorFunc(func(ctx context.Context, task *graph.Task) error { return nil })
}

func mustAdd(t *testing.T, g *graph.Graph, task *graph.Task) {
	t.Helper()
	if err := g.Add(task); err != nil {
		t.Fatalf("Add(%s) error = %v", task.ID, err)
	}
}

// TestRunCompletesGraph runs a three-task diamond-free chain to
// completion and checks the summary and per-task results.
func TestRunCompletesGraph(t *testing.T) {
	cfg := testConfig()
	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 1})
	mustAdd(t, g, &graph.Task{ID: "B", Weight: 1, DependsOn: []string{"A"}})
	mustAdd(t, g, &graph.Task{ID: "C", Weight: 1, DependsOn: []string{"A", "B"}})

	s := New(cfg, g, singleAgentPool(cfg, noopExec()), nil)

	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if sum.Completed != 3 || sum.Failed != 0 || sum.Blocked != 0 {
		t.Errorf("summary = %+v, want 3 completed", sum)
	}

	results := s.Results()
	for _, id := range []string{"A", "B", "C"} {
		r, ok := results[id]
		if !ok {
			t.Fatalf("no result for %s", id)
		}
		if !r.Success || r.Reason != weights.ReasonSuccess {
			t.Errorf("result %s = %+v, want success", id, r)
		}
	}
}

// TestDispatchOrderFollowsWeight pins the priority rule: with one
// slot, B (weight 5) must run before A (weight 1), and C waits for
// both.
func TestDispatchOrderFollowsWeight(t *testing.T) {
	cfg := testConfig()
	cfg.TotalSlots = 1
	cfg.MaxAgents = 1

	var mu sync.Mutex
	var order []string
	exec := agent.ExecutorFunc(func(ctx context.Context, task *graph.Task) error {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return nil
	})

	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 1})
	mustAdd(t, g, &graph.Task{ID: "B", Weight: 5})
	mustAdd(t, g, &graph.Task{ID: "C", Weight: 9, DependsOn: []string{"A", "B"}})

	s := New(cfg, g, singleAgentPool(cfg, exec), nil)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run error = %v", err)
	}

	if len(order) != 3 {
		t.Fatalf("executed %v, want 3 tasks", order)
	}
	if order[0] != "B" || order[1] != "A" || order[2] != "C" {
		t.Errorf("execution order = %v, want [B A C]", order)
	}
}

// TestFailureBlocksDependents checks that a failed dependency leaves
// its dependents permanently pending and the run still drains.
func TestFailureBlocksDependents(t *testing.T) {
	cfg := testConfig()
	exec := agent.ExecutorFunc(func(ctx context.Context, task *graph.Task) error {
		if task.ID == "A" {
			return errors.New("boom")
		}
		return nil
	})

	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 5})
	mustAdd(t, g, &graph.Task{ID: "B", Weight: 1})
	mustAdd(t, g, &graph.Task{ID: "C", Weight: 1, DependsOn: []string{"A"}})

	s := New(cfg, g, singleAgentPool(cfg, exec), nil)
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}

	if sum.Completed != 1 || sum.Failed != 1 || sum.Blocked != 1 {
		t.Errorf("summary = %+v, want 1 completed, 1 failed, 1 blocked", sum)
	}

	c, _ := g.Get("C")
	if c.Status != graph.StatusPending {
		t.Errorf("C status = %s, want pending", c.Status)
	}
	if r := s.Results()["A"]; r.Success || r.Reason != weights.ReasonFailure {
		t.Errorf("result A = %+v, want completion-failure", r)
	}
	if _, ran := s.Results()["C"]; ran {
		t.Error("C has a result; it must never have been dispatched")
	}
}

// TestTaskTimeout checks the per-dispatch deadline: a task exceeding
// it fails with the timeout reason.
func TestTaskTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TaskTimeout = 30 * time.Millisecond

	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 1, CostHint: time.Minute})

	s := New(cfg, g, singleAgentPool(cfg, agent.SimulatedExecutor{}), nil)
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}
	if r := s.Results()["A"]; r.Reason != weights.ReasonTimeout {
		t.Errorf("result A reason = %q, want %q", r.Reason, weights.ReasonTimeout)
	}
}

// TestCancellation checks that cancelling the run context fails
// in-flight tasks with the cancelled reason and Run returns ctx.Err().
func TestCancellation(t *testing.T) {
	cfg := testConfig()

	started := make(chan struct{})
	var once sync.Once
	exec := agent.ExecutorFunc(func(ctx context.Context, task *graph.Task) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	})

	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	s := New(cfg, g, singleAgentPool(cfg, exec), nil)
	sum, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if sum.Failed != 1 {
		t.Errorf("summary = %+v, want 1 failed", sum)
	}
	if r := s.Results()["A"]; r.Reason != weights.ReasonCancelled {
		t.Errorf("result A reason = %q, want %q", r.Reason, weights.ReasonCancelled)
	}
}

// TestDynamicSubmit adds a task mid-run and checks it executes before
// the scheduler drains.
func TestDynamicSubmit(t *testing.T) {
	cfg := testConfig()
	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 1})

	var s *Scheduler
	submitted := make(chan error, 1)
	exec := agent.ExecutorFunc(func(ctx context.Context, task *graph.Task) error {
		if task.ID == "A" {
			submitted <- s.Submit(&graph.Task{ID: "B", Weight: 1, DependsOn: []string{"A"}})
		}
		return nil
	})

	s = New(cfg, g, singleAgentPool(cfg, exec), nil)
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if err := <-submitted; err != nil {
		t.Fatalf("Submit error = %v", err)
	}
	if sum.Completed != 2 {
		t.Errorf("summary = %+v, want both A and B completed", sum)
	}
	if r := s.Results()["B"]; !r.Success {
		t.Errorf("result B = %+v, want success", r)
	}
}

// TestSuccessRewardAdjustsWeight checks that finishing well under the
// cost hint raises the task's weight.
func TestSuccessRewardAdjustsWeight(t *testing.T) {
	cfg := testConfig()
	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 1, CostHint: time.Hour})

	s := New(cfg, g, singleAgentPool(cfg, noopExec()), nil)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run error = %v", err)
	}

	a, _ := g.Get("A")
	if a.Weight <= 1 {
		t.Errorf("A weight = %v, want raised above 1 by the success reward", a.Weight)
	}
}

// TestBoostPropagatesToDependencies checks manual pressure flows
// backward along dependency edges with decay.
func TestBoostPropagatesToDependencies(t *testing.T) {
	cfg := testConfig()
	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 1})
	mustAdd(t, g, &graph.Task{ID: "B", Weight: 1, DependsOn: []string{"A"}})

	s := New(cfg, g, singleAgentPool(cfg, noopExec()), nil)
	s.Boost("B", 4)

	b, _ := g.Get("B")
	if b.Weight != 5 {
		t.Errorf("B weight = %v, want 5", b.Weight)
	}
	a, _ := g.Get("A")
	if a.Weight != 3 {
		t.Errorf("A weight = %v, want 3 (decayed by propagation factor)", a.Weight)
	}
}

// TestEventsPublished checks the telemetry stream covers dispatch,
// completion, snapshots, and the final drained event.
func TestEventsPublished(t *testing.T) {
	cfg := testConfig()
	bus := events.NewBus()
	sub := bus.SubscribeAll(1024)
	defer sub.Unsubscribe()

	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 1, CostHint: time.Hour})

	s := New(cfg, g, singleAgentPool(cfg, noopExec()), bus)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run error = %v", err)
	}

	seen := make(map[string]int)
drain:
	for {
		select {
		case ev := <-sub.C:
			seen[ev.EventType()]++
		default:
			break drain
		}
	}

	for _, want := range []string{
		events.EventTypeTaskDispatched,
		events.EventTypeTaskCompleted,
		events.EventTypeWeightAdjusted,
		events.EventTypeSnapshotRecorded,
		events.EventTypeAllocationsChanged,
		events.EventTypeProgress,
		events.EventTypeDrained,
	} {
		if seen[want] == 0 {
			t.Errorf("no %s event published (saw %v)", want, seen)
		}
	}
}

// TestNoAgents checks Run fails fast with an empty pool.
func TestNoAgents(t *testing.T) {
	cfg := testConfig()
	g := graph.New()
	mustAdd(t, g, &graph.Task{ID: "A", Weight: 1})

	s := New(cfg, g, agent.NewPool(cfg.Retry), nil)
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("Run error = nil, want failure with no agents")
	}
}

// TestSnapshotsRecorded checks the monitor window fills during a run
// and the score reflects a clean run.
func TestSnapshotsRecorded(t *testing.T) {
	cfg := testConfig()
	g := graph.New()
	for _, id := range []string{"A", "B", "C", "D"} {
		mustAdd(t, g, &graph.Task{ID: id, Weight: 1})
	}

	s := New(cfg, g, singleAgentPool(cfg, noopExec()), nil)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run error = %v", err)
	}

	summary := s.Monitor().GetSummary()
	if summary.Snapshots != 4 {
		t.Errorf("snapshots = %d, want one per outcome", summary.Snapshots)
	}
	if summary.AvgErrorRate != 0 {
		t.Errorf("avg error rate = %v, want 0 for a clean run", summary.AvgErrorRate)
	}
}
