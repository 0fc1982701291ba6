package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplesched/ripple/internal/graph"
)

// ShellExecutor runs a task's command line through the shell, with
// process-group isolation and clean termination on shutdown.
type ShellExecutor struct {
	pm      *ProcessManager
	workDir string
}

// NewShellExecutor creates a ShellExecutor. Commands run in workDir
// (empty means the current directory) and are tracked by pm.
func NewShellExecutor(pm *ProcessManager, workDir string) *ShellExecutor {
	return &ShellExecutor{pm: pm, workDir: workDir}
}

// Execute runs the task command and waits for it.
func (e *ShellExecutor) Execute(ctx context.Context, task *graph.Task) error {
	if task.Command == "" {
		return fmt.Errorf("task %s has no command", task.ID)
	}

	cmd := newCommand(ctx, "sh", "-c", task.Command)
	cmd.Dir = e.workDir

	_, _, err := runCommand(cmd, e.pm)
	return err
}

// SimulatedExecutor sleeps for the task's cost hint scaled by Scale,
// standing in for real work in dry runs and load tests.
type SimulatedExecutor struct {
	// Scale divides the cost hint: 10 means a 10s hint sleeps 1s.
	// Zero or negative means 1 (full duration).
	Scale int
}

// Execute sleeps until the scaled hint elapses or the context ends.
func (e SimulatedExecutor) Execute(ctx context.Context, task *graph.Task) error {
	scale := e.Scale
	if scale <= 0 {
		scale = 1
	}
	d := task.CostHint / time.Duration(scale)
	if d <= 0 {
		d = 10 * time.Millisecond
	}

	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
