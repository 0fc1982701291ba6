// Package plan reads task graphs from TOML plan files and turns them
// into a dependency graph ready for scheduling. Tasks in a plan may
// reference dependencies declared later in the file; ordering is
// resolved at build time.
package plan

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ripplesched/ripple/internal/graph"
)

// ErrInvalidPlan is returned for structural problems in a plan file:
// duplicate IDs, unknown dependencies, or dependency cycles.
var ErrInvalidPlan = errors.New("invalid plan")

// TaskSpec is one [[task]] entry in a plan file.
type TaskSpec struct {
	ID        string   `toml:"id"`
	DependsOn []string `toml:"depends_on"`
	Weight    float64  `toml:"weight"`
	CostHint  string   `toml:"cost_hint"` // duration string, e.g. "30s"
	Command   string   `toml:"command"`
	Retryable bool     `toml:"retryable"`
}

// Plan is a parsed plan file.
type Plan struct {
	Name  string     `toml:"name"`
	Tasks []TaskSpec `toml:"task"`
}

// Parse decodes and validates a plan from TOML bytes.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlan, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads and parses a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

func (p *Plan) validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidPlan)
	}

	ids := make(map[string]bool, len(p.Tasks))
	for _, spec := range p.Tasks {
		if spec.ID == "" {
			return fmt.Errorf("%w: task with empty id", ErrInvalidPlan)
		}
		if ids[spec.ID] {
			return fmt.Errorf("%w: duplicate task id %s", ErrInvalidPlan, spec.ID)
		}
		ids[spec.ID] = true
	}

	for _, spec := range p.Tasks {
		if spec.Weight < 0 {
			return fmt.Errorf("%w: task %s has negative weight %v", ErrInvalidPlan, spec.ID, spec.Weight)
		}
		if spec.CostHint != "" {
			if _, err := time.ParseDuration(spec.CostHint); err != nil {
				return fmt.Errorf("%w: task %s cost_hint: %s", ErrInvalidPlan, spec.ID, err)
			}
		}
		for _, dep := range spec.DependsOn {
			if dep == spec.ID {
				return fmt.Errorf("%w: task %s depends on itself", ErrInvalidPlan, spec.ID)
			}
			if !ids[dep] {
				return fmt.Errorf("%w: task %s depends on unknown task %s", ErrInvalidPlan, spec.ID, dep)
			}
		}
	}
	return nil
}

// order returns the task specs in dependency-first order so the graph
// accepts them one by one. A cycle in the plan is reported here.
func (p *Plan) order() ([]TaskSpec, error) {
	specs := make(map[string]TaskSpec, len(p.Tasks))
	unmet := make(map[string]int, len(p.Tasks))
	dependents := make(map[string][]string)
	for _, spec := range p.Tasks {
		specs[spec.ID] = spec
		unmet[spec.ID] = len(spec.DependsOn)
		for _, dep := range spec.DependsOn {
			dependents[dep] = append(dependents[dep], spec.ID)
		}
	}

	// Kahn's algorithm, seeded in file order for stable output.
	var queue []string
	for _, spec := range p.Tasks {
		if unmet[spec.ID] == 0 {
			queue = append(queue, spec.ID)
		}
	}

	ordered := make([]TaskSpec, 0, len(p.Tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, specs[id])
		for _, dep := range dependents[id] {
			unmet[dep]--
			if unmet[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(ordered) != len(p.Tasks) {
		var cyclic []string
		for _, spec := range p.Tasks {
			if unmet[spec.ID] > 0 {
				cyclic = append(cyclic, spec.ID)
			}
		}
		return nil, fmt.Errorf("%w: dependency cycle involving %v", ErrInvalidPlan, cyclic)
	}
	return ordered, nil
}

// Task converts a spec to a graph task. The cost hint was validated
// at parse time.
func (spec TaskSpec) Task() *graph.Task {
	t := &graph.Task{
		ID:        spec.ID,
		DependsOn: append([]string(nil), spec.DependsOn...),
		Weight:    spec.Weight,
		Command:   spec.Command,
		Retryable: spec.Retryable,
	}
	if spec.CostHint != "" {
		t.CostHint, _ = time.ParseDuration(spec.CostHint)
	}
	return t
}

// Ordered returns the task specs in dependency-first order, erroring
// on a cycle. Callers feeding a live scheduler use this to submit
// tasks one by one.
func (p *Plan) Ordered() ([]TaskSpec, error) {
	return p.order()
}

// Graph builds a fresh dependency graph from the plan.
func (p *Plan) Graph() (*graph.Graph, error) {
	g := graph.New()
	if err := p.ApplyTo(g); err != nil {
		return nil, err
	}
	return g, nil
}

// ApplyTo adds the plan's tasks to an existing graph in dependency
// order, skipping tasks the graph already holds. This is how watch
// mode folds an edited plan into a live run.
func (p *Plan) ApplyTo(g *graph.Graph) error {
	ordered, err := p.order()
	if err != nil {
		return err
	}
	for _, spec := range ordered {
		if _, exists := g.Get(spec.ID); exists {
			continue
		}
		if err := g.Add(spec.Task()); err != nil {
			return fmt.Errorf("plan task %s: %w", spec.ID, err)
		}
	}
	return nil
}
