// Package scheduler owns the control loop: it pulls ready tasks from
// the graph in priority order, dispatches them to agent slots, and
// applies each outcome atomically before the next dispatch decision
// (status transition, weight propagation, metrics snapshot, slot
// reallocation).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ripplesched/ripple/internal/agent"
	"github.com/ripplesched/ripple/internal/config"
	"github.com/ripplesched/ripple/internal/events"
	"github.com/ripplesched/ripple/internal/graph"
	"github.com/ripplesched/ripple/internal/monitor"
	"github.com/ripplesched/ripple/internal/weights"
)

// Result records the final outcome of one task execution.
type Result struct {
	TaskID   string
	AgentID  string
	Success  bool
	Reason   string
	Duration time.Duration
	Err      error
}

// Summary is returned by Run once the graph is drained.
type Summary struct {
	Completed int
	Failed    int
	Blocked   int // pending tasks permanently blocked by a failed dependency
	Elapsed   time.Duration
	Score     float64
}

// outcome travels from the task goroutine back to the control loop.
type outcome struct {
	taskID   string
	agentID  string
	err      error
	timedOut bool
	duration time.Duration
}

// Scheduler drives execution of a task graph across a pool of agents.
type Scheduler struct {
	cfg     *config.Config
	graph   *graph.Graph
	updater *weights.Updater
	mon     *monitor.Monitor
	pool    *agent.Pool
	bus     *events.Bus

	outcomes chan outcome
	wake     chan struct{}

	mu        sync.Mutex
	results   map[string]Result
	alloc     []monitor.Allocation
	busy      map[string]int // agentID -> slots in use
	inFlight  int
	finished  int
	totalDur  time.Duration
	startedAt time.Time
	running   bool
}

// New wires a scheduler from its collaborators. The bus may be nil
// when no subscriber cares about telemetry.
func New(cfg *config.Config, g *graph.Graph, pool *agent.Pool, bus *events.Bus) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		graph: g,
		updater: weights.New(weights.Config{
			PropagationFactor: cfg.PropagationFactor,
			Epsilon:           cfg.Epsilon,
			MaxReward:         cfg.MaxReward,
			FailurePenalty:    cfg.FailurePenalty,
			RetryablePenalty:  cfg.RetryablePenalty,
			WeightFloor:       cfg.WeightFloor,
			WeightCeiling:     cfg.WeightCeiling,
		}),
		mon: monitor.New(cfg.WindowSize, monitor.ScoreWeights{
			Throughput:  cfg.ScoreWeights.Throughput,
			Latency:     cfg.ScoreWeights.Latency,
			Utilization: cfg.ScoreWeights.Utilization,
			ErrorRate:   cfg.ScoreWeights.ErrorRate,
		}),
		pool:     pool,
		bus:      bus,
		outcomes: make(chan outcome, cfg.TotalSlots),
		wake:     make(chan struct{}, 1),
		results:  make(map[string]Result),
		busy:     make(map[string]int),
	}
}

// Monitor exposes the scheduler's performance monitor for status
// queries and history persistence.
func (s *Scheduler) Monitor() *monitor.Monitor {
	return s.mon
}

// Submit adds a task while the scheduler is running. Its dependencies
// must already be in the graph. Safe to call from other goroutines
// until Run returns.
func (s *Scheduler) Submit(task *graph.Task) error {
	if err := s.graph.Add(task); err != nil {
		return err
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Results returns the recorded per-task outcomes keyed by task ID.
func (s *Scheduler) Results() map[string]Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Result, len(s.results))
	for id, r := range s.results {
		out[id] = r
	}
	return out
}

// Run executes the graph until it drains: no ready tasks, no running
// tasks, and every remaining pending task permanently blocked by a
// failed dependency. Outcomes are applied one at a time, so every
// dispatch decision sees the effects of all previously applied
// outcomes. Returns ctx.Err() after in-flight tasks wind down if the
// context ends first.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Summary{}, errors.New("scheduler is already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	if len(s.pool.Agents()) == 0 {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return Summary{}, errors.New("no agents registered")
	}

	s.reallocate()

	for {
		if ctx.Err() != nil {
			// Per-task contexts inherit ctx; running tasks report back
			// as cancelled. Drain them, then stop.
			s.mu.Lock()
			inFlight := s.inFlight
			s.mu.Unlock()
			if inFlight == 0 {
				return s.finish(), ctx.Err()
			}
			s.apply(<-s.outcomes)
			continue
		}

		s.dispatch(ctx)

		s.mu.Lock()
		inFlight := s.inFlight
		s.mu.Unlock()

		if inFlight == 0 && s.graph.Drained() {
			return s.finish(), nil
		}

		select {
		case out := <-s.outcomes:
			s.apply(out)
		case <-s.wake:
		case <-ctx.Done():
		}
	}
}

// dispatch launches every ready task an agent slot is available for,
// highest weight first.
func (s *Scheduler) dispatch(ctx context.Context) {
	for _, task := range s.graph.Ready() {
		agentID, ok := s.claimSlot()
		if !ok {
			return
		}
		if err := s.graph.MarkRunning(task.ID); err != nil {
			// Lost a race with another transition; give the slot back.
			s.releaseSlot(agentID)
			continue
		}

		s.publish(events.TopicTask, events.TaskDispatchedEvent{
			ID:        task.ID,
			AgentID:   agentID,
			Weight:    task.Weight,
			Timestamp: time.Now(),
		})

		go s.execute(ctx, task, agentID)
	}
}

// execute runs one task under its per-dispatch deadline and reports
// the outcome back to the control loop.
func (s *Scheduler) execute(ctx context.Context, task *graph.Task, agentID string) {
	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	err := s.pool.Run(taskCtx, agentID, task)
	duration := time.Since(start)

	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		(err != nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil)

	s.outcomes <- outcome{
		taskID:   task.ID,
		agentID:  agentID,
		err:      err,
		timedOut: timedOut,
		duration: duration,
	}
}

// apply folds one outcome into the graph, weights, and monitor before
// the loop makes its next dispatch decision.
func (s *Scheduler) apply(out outcome) {
	s.releaseSlot(out.agentID)

	task, ok := s.graph.Get(out.taskID)
	if !ok {
		log.Printf("WARNING: outcome for unknown task %s dropped", out.taskID)
		return
	}

	wo := weights.Outcome{
		TaskID:    out.taskID,
		Success:   out.err == nil,
		Retryable: task.Retryable,
		Cancelled: out.err != nil && errors.Is(out.err, context.Canceled),
		TimedOut:  out.timedOut,
		Duration:  out.duration,
	}

	if wo.Success {
		if err := s.graph.MarkCompleted(out.taskID, out.duration); err != nil {
			log.Printf("ERROR: completing %s: %v", out.taskID, err)
		}
		s.publish(events.TopicTask, events.TaskCompletedEvent{
			ID:        out.taskID,
			AgentID:   out.agentID,
			Duration:  out.duration,
			Timestamp: time.Now(),
		})
	} else {
		taskErr := out.err
		if out.timedOut {
			taskErr = fmt.Errorf("task %s exceeded deadline %v: %w", out.taskID, s.cfg.TaskTimeout, out.err)
		}
		if err := s.graph.MarkFailed(out.taskID, out.duration, taskErr); err != nil {
			log.Printf("ERROR: failing %s: %v", out.taskID, err)
		}
		s.publish(events.TopicTask, events.TaskFailedEvent{
			ID:        out.taskID,
			AgentID:   out.agentID,
			Err:       taskErr,
			Reason:    wo.Reason(),
			Duration:  out.duration,
			Timestamp: time.Now(),
		})
	}

	delta := s.updater.CreateDelta(task, wo)
	if delta.Amount != 0 {
		s.updater.Apply(s.graph, delta)
		s.publish(events.TopicTask, events.WeightAdjustedEvent{
			ID:        delta.TaskID,
			Amount:    delta.Amount,
			Reason:    delta.Reason,
			Timestamp: time.Now(),
		})
	}

	s.mu.Lock()
	s.finished++
	s.totalDur += out.duration
	s.results[out.taskID] = Result{
		TaskID:   out.taskID,
		AgentID:  out.agentID,
		Success:  wo.Success,
		Reason:   wo.Reason(),
		Duration: out.duration,
		Err:      out.err,
	}
	s.mu.Unlock()

	s.snapshot()
	s.reallocate()
	s.progress()
}

// Boost raises a task's weight by amount, propagating to its
// dependency chain. Used for deadline pressure from outside the loop.
func (s *Scheduler) Boost(taskID string, amount float64) {
	delta := s.updater.PressureDelta(taskID, amount)
	s.updater.Apply(s.graph, delta)
	s.publish(events.TopicTask, events.WeightAdjustedEvent{
		ID:        taskID,
		Amount:    amount,
		Reason:    delta.Reason,
		Timestamp: time.Now(),
	})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// claimSlot picks the highest-priority agent with free capacity under
// the current allocation and reserves one slot on it.
func (s *Scheduler) claimSlot() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alloc {
		if a.Slots > s.busy[a.AgentID] {
			s.busy[a.AgentID]++
			s.inFlight++
			return a.AgentID, true
		}
	}
	return "", false
}

func (s *Scheduler) releaseSlot(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[agentID] > 0 {
		s.busy[agentID]--
	}
	s.inFlight--
}

// snapshot records a metrics observation derived from graph counts
// and running totals.
func (s *Scheduler) snapshot() {
	counts := s.graph.CountByStatus()

	s.mu.Lock()
	elapsed := time.Since(s.startedAt)
	finished := s.finished
	totalDur := s.totalDur
	inFlight := s.inFlight
	s.mu.Unlock()

	snap := monitor.Snapshot{
		Timestamp:    time.Now(),
		ActiveAgents: len(s.pool.Agents()),
		Pending:      counts.Pending + counts.Ready,
		Running:      counts.Running,
		Completed:    counts.Completed,
		Failed:       counts.Failed,
		Utilization:  float64(inFlight) / float64(s.cfg.TotalSlots),
	}
	if elapsed > 0 {
		snap.Throughput = float64(counts.Completed) / elapsed.Seconds()
	}
	if finished > 0 {
		snap.AvgLatency = totalDur / time.Duration(finished)
		snap.ErrorRate = float64(counts.Failed) / float64(finished)
	}

	s.mon.Record(snap)
	s.publish(events.TopicMetrics, events.SnapshotRecordedEvent{
		Snapshot:  snap,
		Score:     s.mon.Score(),
		Timestamp: time.Now(),
	})
}

// reallocate recomputes per-agent slot budgets from the current
// health score. In-flight work keeps its slots; shrunk budgets take
// effect as tasks finish.
func (s *Scheduler) reallocate() {
	alloc := s.mon.GetResourceAllocation(s.pool.Agents(), s.cfg.TotalSlots, s.cfg.MaxAgents)

	s.mu.Lock()
	s.alloc = alloc
	s.mu.Unlock()

	s.publish(events.TopicMetrics, events.AllocationsChangedEvent{
		Allocations: alloc,
		Score:       s.mon.Score(),
		Timestamp:   time.Now(),
	})
}

func (s *Scheduler) progress() {
	counts := s.graph.CountByStatus()
	s.publish(events.TopicSched, events.ProgressEvent{
		Total:     counts.Total(),
		Pending:   counts.Pending,
		Ready:     counts.Ready,
		Running:   counts.Running,
		Completed: counts.Completed,
		Failed:    counts.Failed,
		Timestamp: time.Now(),
	})
}

func (s *Scheduler) finish() Summary {
	counts := s.graph.CountByStatus()
	sum := Summary{
		Completed: counts.Completed,
		Failed:    counts.Failed,
		Blocked:   counts.Pending,
		Elapsed:   time.Since(s.startedAt),
		Score:     s.mon.Score(),
	}

	s.publish(events.TopicSched, events.DrainedEvent{
		Completed: sum.Completed,
		Failed:    sum.Failed,
		Blocked:   sum.Blocked,
		Timestamp: time.Now(),
	})

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return sum
}

func (s *Scheduler) publish(topic string, event events.Event) {
	if s.bus != nil {
		s.bus.Publish(topic, event)
	}
}
