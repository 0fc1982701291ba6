package events

import (
	"time"

	"github.com/ripplesched/ripple/internal/monitor"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask    = "task"
	TopicSched   = "sched"
	TopicMetrics = "metrics"
)

// Event type constants
const (
	EventTypeTaskDispatched     = "task.dispatched"
	EventTypeTaskCompleted      = "task.completed"
	EventTypeTaskFailed         = "task.failed"
	EventTypeWeightAdjusted     = "task.weight_adjusted"
	EventTypeProgress           = "sched.progress"
	EventTypeDrained            = "sched.drained"
	EventTypeSnapshotRecorded   = "metrics.snapshot"
	EventTypeAllocationsChanged = "metrics.allocations"
)

// TaskDispatchedEvent is published when a task is handed to an agent slot.
type TaskDispatchedEvent struct {
	ID        string
	AgentID   string
	Weight    float64
	Timestamp time.Time
}

func (e TaskDispatchedEvent) EventType() string { return EventTypeTaskDispatched }
func (e TaskDispatchedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	AgentID   string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails, is cancelled, or
// times out. Reason carries the weight-delta reason tag.
type TaskFailedEvent struct {
	ID        string
	AgentID   string
	Err       error
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// WeightAdjustedEvent is published after a weight delta is applied.
type WeightAdjustedEvent struct {
	ID        string
	Amount    float64
	Reason    string
	Timestamp time.Time
}

func (e WeightAdjustedEvent) EventType() string { return EventTypeWeightAdjusted }
func (e WeightAdjustedEvent) TaskID() string    { return e.ID }

// ProgressEvent is published when scheduler progress changes.
type ProgressEvent struct {
	Total     int
	Pending   int
	Ready     int
	Running   int
	Completed int
	Failed    int
	Timestamp time.Time
}

func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) TaskID() string    { return "" }

// DrainedEvent is published once when the scheduler reaches its
// terminal drained state.
type DrainedEvent struct {
	Completed int
	Failed    int
	Blocked   int
	Timestamp time.Time
}

func (e DrainedEvent) EventType() string { return EventTypeDrained }
func (e DrainedEvent) TaskID() string    { return "" }

// SnapshotRecordedEvent is published after each metrics snapshot append.
type SnapshotRecordedEvent struct {
	Snapshot  monitor.Snapshot
	Score     float64
	Timestamp time.Time
}

func (e SnapshotRecordedEvent) EventType() string { return EventTypeSnapshotRecorded }
func (e SnapshotRecordedEvent) TaskID() string    { return "" }

// AllocationsChangedEvent is published when slot allocations are
// recomputed after an outcome.
type AllocationsChangedEvent struct {
	Allocations []monitor.Allocation
	Score       float64
	Timestamp   time.Time
}

func (e AllocationsChangedEvent) EventType() string { return EventTypeAllocationsChanged }
func (e AllocationsChangedEvent) TaskID() string    { return "" }
