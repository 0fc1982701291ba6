// Package weights converts task outcomes into priority adjustments
// and propagates them backward along dependency edges, so urgency on
// a downstream task raises scheduling pressure on its prerequisites.
package weights

import (
	"time"

	"github.com/ripplesched/ripple/internal/graph"
)

// Reason tags carried by deltas, surfaced in events and history.
const (
	ReasonSuccess          = "completion-success"
	ReasonFailure          = "completion-failure"
	ReasonCancelled        = "cancelled"
	ReasonTimeout          = "timeout"
	ReasonDeadlinePressure = "deadline-pressure"
)

// Delta is a signed weight adjustment for a single task. Deltas are
// produced, applied, and discarded; they are never persisted.
type Delta struct {
	TaskID string
	Amount float64
	Reason string
}

// Outcome describes a finished execution as reported by the agent layer.
type Outcome struct {
	TaskID    string
	Success   bool
	Retryable bool // failure was retryable (exhausted retries)
	Cancelled bool
	TimedOut  bool
	Duration  time.Duration
}

// Reason maps the outcome to its delta reason tag.
func (o Outcome) Reason() string {
	switch {
	case o.Success:
		return ReasonSuccess
	case o.TimedOut:
		return ReasonTimeout
	case o.Cancelled:
		return ReasonCancelled
	default:
		return ReasonFailure
	}
}

// Config holds the updater tunables. All values are fixed at
// construction.
type Config struct {
	// PropagationFactor is the per-hop decay applied when walking from
	// a task to its dependencies. Must be in (0, 1).
	PropagationFactor float64

	// Epsilon terminates propagation once the decayed magnitude drops
	// below it. Must be > 0.
	Epsilon float64

	// MaxReward caps the positive delta for a successful completion.
	MaxReward float64

	// FailurePenalty and RetryablePenalty are the magnitudes of the
	// negative deltas for non-retryable and retryable failures.
	FailurePenalty   float64
	RetryablePenalty float64

	// WeightFloor and WeightCeiling clamp every weight the updater
	// writes. The floor is never below zero.
	WeightFloor   float64
	WeightCeiling float64
}

// Updater computes and applies weight deltas.
type Updater struct {
	cfg Config
}

// New creates an Updater with the given configuration. The
// configuration is assumed validated (see internal/config).
func New(cfg Config) *Updater {
	return &Updater{cfg: cfg}
}

// CreateDelta derives a delta from an outcome. A success within or
// under the cost hint earns a reward proportional to how far under
// estimate it ran, capped at MaxReward. A missing cost hint yields a
// neutral zero delta. Failures yield a negative delta scaled by
// severity.
func (u *Updater) CreateDelta(task *graph.Task, outcome Outcome) Delta {
	d := Delta{TaskID: task.ID, Reason: outcome.Reason()}

	if outcome.Success {
		if task.CostHint <= 0 {
			return d // no estimate, nothing to judge the run against
		}
		ratio := float64(outcome.Duration) / float64(task.CostHint)
		if ratio <= 1 {
			d.Amount = u.cfg.MaxReward * (1 - ratio/2)
		}
		return d
	}

	if outcome.Retryable {
		d.Amount = -u.cfg.RetryablePenalty
	} else {
		d.Amount = -u.cfg.FailurePenalty
	}
	return d
}

// PressureDelta builds a manual boost for a task that external policy
// (deadline tracking, operator input) wants accelerated. It flows
// through Apply like any outcome-derived delta.
func (u *Updater) PressureDelta(taskID string, amount float64) Delta {
	return Delta{TaskID: taskID, Amount: amount, Reason: ReasonDeadlinePressure}
}

// Apply adds the delta to its target task and propagates a decayed
// fraction to each dependency, recursively. Propagation decays
// multiplicatively by PropagationFactor per hop and stops once the
// magnitude falls below Epsilon, bounding the walk on deep chains.
// A per-pass visited set guarantees each task is touched at most once
// even through diamond-shaped graphs. An absent target is a no-op:
// the task may have been evicted.
func (u *Updater) Apply(g *graph.Graph, delta Delta) {
	if delta.Amount == 0 {
		return
	}
	if _, exists := g.Get(delta.TaskID); !exists {
		return
	}

	type hop struct {
		taskID string
		amount float64
	}

	visited := map[string]bool{delta.TaskID: true}
	queue := []hop{{delta.TaskID, delta.Amount}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		// ErrUnknownTask means the node was evicted mid-walk; skip.
		_, err := g.AdjustWeight(cur.taskID, cur.amount, u.cfg.WeightFloor, u.cfg.WeightCeiling)
		if err != nil {
			continue
		}

		next := cur.amount * u.cfg.PropagationFactor
		if abs(next) < u.cfg.Epsilon {
			continue
		}
		for _, depID := range g.DependenciesOf(cur.taskID) {
			if visited[depID] {
				continue
			}
			visited[depID] = true
			queue = append(queue, hop{depID, next})
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
