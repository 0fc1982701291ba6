package graph

import "time"

// Status represents the current state of a task. Transitions are
// forward-only: a task never returns to an earlier status.
type Status int

const (
	StatusPending   Status = iota // Waiting for dependencies
	StatusReady                   // All dependencies completed, dispatchable
	StatusRunning                 // Currently executing on an agent
	StatusCompleted               // Finished successfully
	StatusFailed                  // Finished with error (includes cancellation and timeout)
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task represents a unit of work in the graph.
type Task struct {
	ID        string        // Unique identifier
	DependsOn []string      // Task IDs this task depends on
	Weight    float64       // Current priority weight, mutable until terminal
	CostHint  time.Duration // Estimated duration (0 = no estimate)
	Command   string        // Command line executed by the agent layer
	Retryable bool          // Whether execution failures may be retried
	Status    Status
	Duration  time.Duration // Observed execution time (populated on terminal status)
	Err       error         // Error if failed

	// seq records insertion order and breaks ties between equal-weight
	// tasks so scheduling stays deterministic and starvation-free.
	seq uint64
}

// Seq returns the task's insertion sequence number.
func (t *Task) Seq() uint64 { return t.seq }
