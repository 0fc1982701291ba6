// Package graph holds the task dependency graph: nodes, dependency
// edges, and the structural queries the scheduler drives dispatch
// from. The graph is always a DAG and status transitions are
// monotonic per node.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// ErrCycle is returned when an addition would introduce a dependency cycle.
var ErrCycle = errors.New("cycle detected")

// ErrDuplicateTask is returned when adding a task whose ID already exists.
var ErrDuplicateTask = errors.New("duplicate task")

// ErrUnknownTask is returned when an operation references a non-existent task.
var ErrUnknownTask = errors.New("unknown task")

// ErrInvalidTransition is returned on an illegal status transition.
// The attempted transition has no side effect.
var ErrInvalidTransition = errors.New("invalid status transition")

// Graph is a directed acyclic graph of tasks. Dependency edges point
// from dependency to dependent. All access is guarded by a single
// lock so dispatch decisions and concurrent completions serialize.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	dependents map[string][]string // taskID -> tasks that depend on it
	unmet      map[string]int      // taskID -> count of dependencies not yet completed
	nextSeq    uint64
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
		unmet:      make(map[string]int),
	}
}

// Add inserts a task. All dependencies must already exist in the
// graph. Returns ErrDuplicateTask, ErrUnknownTask, or ErrCycle; on
// error the graph is unchanged. A task with no dependencies starts
// Ready, otherwise Pending.
func (g *Graph) Add(task *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}

	unmet := 0
	for _, depID := range task.DependsOn {
		if depID == task.ID {
			return fmt.Errorf("%w: %s depends on itself", ErrCycle, task.ID)
		}
		dep, exists := g.tasks[depID]
		if !exists {
			return fmt.Errorf("%w: dependency %s of %s", ErrUnknownTask, depID, task.ID)
		}
		// Dependencies always predate the task, so a new edge can only
		// close a cycle if the dependency is somehow reachable from the
		// task. Check anyway so the invariant never relies on insertion
		// order alone.
		if g.reachable(task.ID, depID) {
			return fmt.Errorf("%w: edge %s -> %s", ErrCycle, depID, task.ID)
		}
		if dep.Status != StatusCompleted {
			unmet++
		}
	}

	cp := cloneTask(task)
	cp.seq = g.nextSeq
	g.nextSeq++

	if unmet == 0 {
		cp.Status = StatusReady
	} else {
		cp.Status = StatusPending
	}

	g.tasks[cp.ID] = cp
	g.unmet[cp.ID] = unmet
	for _, depID := range cp.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], cp.ID)
	}
	return nil
}

// Ready returns the tasks currently dispatchable, ordered by weight
// descending with insertion order as tiebreaker. The ready set is
// maintained incrementally on each transition, not by rescanning
// dependency edges.
func (g *Graph) Ready() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*Task
	for _, task := range g.tasks {
		if task.Status == StatusReady {
			ready = append(ready, cloneTask(task))
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Weight != ready[j].Weight {
			return ready[i].Weight > ready[j].Weight
		}
		return ready[i].seq < ready[j].seq
	})
	return ready
}

// MarkRunning transitions a Ready task to Running.
func (g *Graph) MarkRunning(taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status != StatusReady {
		return fmt.Errorf("%w: %s is %s, want ready", ErrInvalidTransition, taskID, task.Status)
	}
	task.Status = StatusRunning
	return nil
}

// MarkCompleted transitions a Running task to Completed and promotes
// dependents whose last unmet dependency this was.
func (g *Graph) MarkCompleted(taskID string, duration time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status != StatusRunning {
		return fmt.Errorf("%w: %s is %s, want running", ErrInvalidTransition, taskID, task.Status)
	}
	task.Status = StatusCompleted
	task.Duration = duration

	for _, depID := range g.dependents[taskID] {
		g.unmet[depID]--
		if g.unmet[depID] == 0 && g.tasks[depID].Status == StatusPending {
			g.tasks[depID].Status = StatusReady
		}
	}
	return nil
}

// MarkFailed transitions a Running task to Failed. Dependents stay
// Pending permanently: a failed dependency never resolves.
func (g *Graph) MarkFailed(taskID string, duration time.Duration, taskErr error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status != StatusRunning {
		return fmt.Errorf("%w: %s is %s, want running", ErrInvalidTransition, taskID, task.Status)
	}
	task.Status = StatusFailed
	task.Duration = duration
	task.Err = taskErr
	return nil
}

// AdjustWeight adds amount to the task's weight, clamped to
// [floor, ceiling]. Terminal tasks keep their final weight for
// reporting but are still adjustable mid-propagation targets; the
// caller decides whether to bother. Returns the new weight.
func (g *Graph) AdjustWeight(taskID string, amount, floor, ceiling float64) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	w := task.Weight + amount
	if w < floor {
		w = floor
	}
	if w > ceiling {
		w = ceiling
	}
	task.Weight = w
	return w, nil
}

// Dependents returns the IDs of tasks directly depending on taskID,
// in the order their dependency edges were added.
func (g *Graph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.dependents[taskID]...)
}

// DependenciesOf returns the direct dependency IDs of taskID, or nil
// if the task does not exist.
func (g *Graph) DependenciesOf(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	task, exists := g.tasks[taskID]
	if !exists {
		return nil
	}
	return append([]string(nil), task.DependsOn...)
}

// Get returns a copy of the task by ID.
func (g *Graph) Get(taskID string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	task, exists := g.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks in insertion order.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*Task, 0, len(g.tasks))
	for _, task := range g.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].seq < tasks[j].seq })
	return tasks
}

// Counts reports how many tasks are in each status.
type Counts struct {
	Pending   int
	Ready     int
	Running   int
	Completed int
	Failed    int
}

// Total returns the number of tasks across all statuses.
func (c Counts) Total() int {
	return c.Pending + c.Ready + c.Running + c.Completed + c.Failed
}

// CountByStatus tallies tasks per status.
func (g *Graph) CountByStatus() Counts {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var c Counts
	for _, task := range g.tasks {
		switch task.Status {
		case StatusPending:
			c.Pending++
		case StatusReady:
			c.Ready++
		case StatusRunning:
			c.Running++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Drained reports whether no dispatchable or in-flight work remains.
// Pending tasks blocked behind a failed dependency count as drained:
// they can never become ready.
func (g *Graph) Drained() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, task := range g.tasks {
		switch task.Status {
		case StatusReady, StatusRunning:
			return false
		case StatusPending:
			if !g.permanentlyBlocked(task) {
				return false
			}
		}
	}
	return true
}

// Evict removes a terminal task whose dependents are all terminal.
// The graph retains terminal nodes for dependents' lookups until then.
func (g *Graph) Evict(taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, exists := g.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if !task.Status.Terminal() {
		return fmt.Errorf("%w: cannot evict %s task %s", ErrInvalidTransition, task.Status, taskID)
	}
	for _, depID := range g.dependents[taskID] {
		if !g.tasks[depID].Status.Terminal() {
			return fmt.Errorf("%w: dependent %s of %s is %s", ErrInvalidTransition, depID, taskID, g.tasks[depID].Status)
		}
	}

	delete(g.tasks, taskID)
	delete(g.unmet, taskID)
	delete(g.dependents, taskID)
	for _, task := range g.tasks {
		for i, depID := range task.DependsOn {
			if depID == taskID {
				task.DependsOn = append(task.DependsOn[:i], task.DependsOn[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Order returns all task IDs in a valid topological order, verifying
// the DAG invariant over the whole graph in one pass.
func (g *Graph) Order() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	for taskID, task := range g.tasks {
		if len(task.DependsOn) == 0 {
			// Keep zero-dependency tasks in the sort output.
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycle, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g.tasks) {
		var missing []string
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for taskID := range g.tasks {
			if !found[taskID] {
				missing = append(missing, taskID)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}
	return order, nil
}

// permanentlyBlocked reports whether a pending task transitively
// depends on a failed task. Caller must hold the lock.
func (g *Graph) permanentlyBlocked(task *Task) bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), task.DependsOn...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		dep, exists := g.tasks[id]
		if !exists {
			continue
		}
		if dep.Status == StatusFailed {
			return true
		}
		stack = append(stack, dep.DependsOn...)
	}
	return false
}

// reachable reports whether dst can be reached from src by following
// dependency-to-dependent edges. Caller must hold the lock.
func (g *Graph) reachable(src, dst string) bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), g.dependents[src]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == dst {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, g.dependents[id]...)
	}
	return false
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	return &cp
}
