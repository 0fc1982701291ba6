package history

import (
	"context"
	"log"

	"github.com/ripplesched/ripple/internal/events"
	"github.com/ripplesched/ripple/internal/scheduler"
	"github.com/ripplesched/ripple/internal/weights"
)

// Recorder tails the event bus and persists task outcomes and metrics
// snapshots as they happen, so a killed run still leaves a partial
// record behind.
type Recorder struct {
	store Store
	runID string
	done  chan struct{}
}

// NewRecorder starts recording bus traffic against the given run.
// Stop the recorder by unsubscribing implicitly via bus Close, or by
// cancelling ctx; then wait on Done.
func NewRecorder(ctx context.Context, store Store, runID string, bus *events.Bus) *Recorder {
	r := &Recorder{store: store, runID: runID, done: make(chan struct{})}
	sub := bus.SubscribeAll(1024)
	go r.loop(ctx, sub)
	return r
}

// Done is closed once the recorder has drained its subscription.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) loop(ctx context.Context, sub *events.Subscription) {
	defer close(r.done)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev events.Event) {
	var err error
	switch e := ev.(type) {
	case events.TaskCompletedEvent:
		err = r.store.SaveOutcome(ctx, r.runID, scheduler.Result{
			TaskID:   e.ID,
			AgentID:  e.AgentID,
			Success:  true,
			Reason:   weights.ReasonSuccess,
			Duration: e.Duration,
		})
	case events.TaskFailedEvent:
		err = r.store.SaveOutcome(ctx, r.runID, scheduler.Result{
			TaskID:   e.ID,
			AgentID:  e.AgentID,
			Reason:   e.Reason,
			Duration: e.Duration,
			Err:      e.Err,
		})
	case events.SnapshotRecordedEvent:
		err = r.store.SaveSnapshot(ctx, r.runID, e.Snapshot, e.Score)
	}
	if err != nil {
		log.Printf("WARNING: history recorder: %v", err)
	}
}
