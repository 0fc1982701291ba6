package graph

import (
	"errors"
	"testing"
	"time"
)

// TestGraphAdd tests structural validation on insertion.
func TestGraphAdd(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(g *Graph) error
		wantErr error
	}{
		{
			name: "single task no deps",
			setup: func(g *Graph) error {
				return g.Add(&Task{ID: "A"})
			},
		},
		{
			name: "linear chain",
			setup: func(g *Graph) error {
				g.Add(&Task{ID: "A"})
				g.Add(&Task{ID: "B", DependsOn: []string{"A"}})
				return g.Add(&Task{ID: "C", DependsOn: []string{"B"}})
			},
		},
		{
			name: "duplicate id",
			setup: func(g *Graph) error {
				g.Add(&Task{ID: "A"})
				return g.Add(&Task{ID: "A"})
			},
			wantErr: ErrDuplicateTask,
		},
		{
			name: "self dependency",
			setup: func(g *Graph) error {
				return g.Add(&Task{ID: "A", DependsOn: []string{"A"}})
			},
			wantErr: ErrCycle,
		},
		{
			name: "unknown dependency",
			setup: func(g *Graph) error {
				return g.Add(&Task{ID: "A", DependsOn: []string{"ghost"}})
			},
			wantErr: ErrUnknownTask,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			err := tt.setup(g)

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("setup error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("setup error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestGraphAddAtomic verifies a rejected insertion leaves the graph unchanged.
func TestGraphAddAtomic(t *testing.T) {
	g := New()
	if err := g.Add(&Task{ID: "A"}); err != nil {
		t.Fatalf("Add(A) error = %v", err)
	}

	err := g.Add(&Task{ID: "B", DependsOn: []string{"A", "missing"}})
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("Add(B) error = %v, want ErrUnknownTask", err)
	}

	if _, exists := g.Get("B"); exists {
		t.Error("rejected task B was inserted")
	}
	if deps := g.Dependents("A"); len(deps) != 0 {
		t.Errorf("Dependents(A) = %v, want empty after rejected insert", deps)
	}
}

// TestGraphReady tests the incremental ready set.
func TestGraphReady(t *testing.T) {
	t.Run("no-dep tasks ready on creation", func(t *testing.T) {
		g := New()
		g.Add(&Task{ID: "A"})
		g.Add(&Task{ID: "B"})
		g.Add(&Task{ID: "C", DependsOn: []string{"A"}})

		ready := g.Ready()
		if len(ready) != 2 {
			t.Fatalf("Ready() returned %d tasks, want 2", len(ready))
		}
		for _, task := range ready {
			if task.ID == "C" {
				t.Error("task C is ready with incomplete dependency")
			}
		}
	})

	t.Run("ordered by weight then insertion", func(t *testing.T) {
		g := New()
		g.Add(&Task{ID: "A", Weight: 1.0})
		g.Add(&Task{ID: "B", Weight: 5.0})
		g.Add(&Task{ID: "C", Weight: 5.0})
		g.Add(&Task{ID: "D", Weight: 3.0})

		ready := g.Ready()
		got := []string{ready[0].ID, ready[1].ID, ready[2].ID, ready[3].ID}
		want := []string{"B", "C", "D", "A"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Ready() order = %v, want %v", got, want)
			}
		}
	})

	t.Run("completion promotes dependents", func(t *testing.T) {
		g := New()
		g.Add(&Task{ID: "A"})
		g.Add(&Task{ID: "B"})
		g.Add(&Task{ID: "C", DependsOn: []string{"A", "B"}})

		g.MarkRunning("A")
		g.MarkCompleted("A", time.Second)

		for _, task := range g.Ready() {
			if task.ID == "C" {
				t.Fatal("C became ready with B still incomplete")
			}
		}

		g.MarkRunning("B")
		g.MarkCompleted("B", time.Second)

		ready := g.Ready()
		if len(ready) != 1 || ready[0].ID != "C" {
			t.Errorf("Ready() = %v, want [C]", ready)
		}
	})

	t.Run("failed dependency blocks forever", func(t *testing.T) {
		g := New()
		g.Add(&Task{ID: "A"})
		g.Add(&Task{ID: "C", DependsOn: []string{"A"}})

		g.MarkRunning("A")
		g.MarkFailed("A", time.Second, errors.New("boom"))

		if len(g.Ready()) != 0 {
			t.Error("dependent of failed task became ready")
		}
		c, _ := g.Get("C")
		if c.Status != StatusPending {
			t.Errorf("C status = %s, want pending (blocked, not failed)", c.Status)
		}
		if !g.Drained() {
			t.Error("graph with only a permanently blocked task should be drained")
		}
	})
}

// TestGraphTransitions tests legal and illegal status transitions.
func TestGraphTransitions(t *testing.T) {
	t.Run("full lifecycle", func(t *testing.T) {
		g := New()
		g.Add(&Task{ID: "A"})

		if err := g.MarkRunning("A"); err != nil {
			t.Fatalf("MarkRunning error = %v", err)
		}
		if err := g.MarkCompleted("A", 2*time.Second); err != nil {
			t.Fatalf("MarkCompleted error = %v", err)
		}
		task, _ := g.Get("A")
		if task.Status != StatusCompleted {
			t.Errorf("status = %s, want completed", task.Status)
		}
		if task.Duration != 2*time.Second {
			t.Errorf("duration = %v, want 2s", task.Duration)
		}
	})

	t.Run("pending task cannot complete directly", func(t *testing.T) {
		g := New()
		g.Add(&Task{ID: "A"})
		g.Add(&Task{ID: "B", DependsOn: []string{"A"}})

		err := g.MarkCompleted("B", time.Second)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("MarkCompleted on pending task error = %v, want ErrInvalidTransition", err)
		}
		task, _ := g.Get("B")
		if task.Status != StatusPending {
			t.Errorf("illegal transition mutated status to %s", task.Status)
		}
	})

	t.Run("no resurrection", func(t *testing.T) {
		g := New()
		g.Add(&Task{ID: "A"})
		g.MarkRunning("A")
		g.MarkFailed("A", time.Second, errors.New("boom"))

		if err := g.MarkRunning("A"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("MarkRunning on failed task error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		g := New()
		if err := g.MarkRunning("ghost"); !errors.Is(err, ErrUnknownTask) {
			t.Errorf("MarkRunning(ghost) error = %v, want ErrUnknownTask", err)
		}
	})
}

// TestGraphAdjustWeight tests weight clamping.
func TestGraphAdjustWeight(t *testing.T) {
	g := New()
	g.Add(&Task{ID: "A", Weight: 5.0})

	w, err := g.AdjustWeight("A", -100, 0, 100)
	if err != nil {
		t.Fatalf("AdjustWeight error = %v", err)
	}
	if w != 0 {
		t.Errorf("weight = %v, want floor 0", w)
	}

	w, _ = g.AdjustWeight("A", 1000, 0, 100)
	if w != 100 {
		t.Errorf("weight = %v, want ceiling 100", w)
	}

	if _, err := g.AdjustWeight("ghost", 1, 0, 100); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("AdjustWeight(ghost) error = %v, want ErrUnknownTask", err)
	}
}

// TestGraphDependents verifies the reverse index used by weight propagation.
func TestGraphDependents(t *testing.T) {
	g := New()
	g.Add(&Task{ID: "A"})
	g.Add(&Task{ID: "B", DependsOn: []string{"A"}})
	g.Add(&Task{ID: "C", DependsOn: []string{"A"}})

	deps := g.Dependents("A")
	if len(deps) != 2 || deps[0] != "B" || deps[1] != "C" {
		t.Errorf("Dependents(A) = %v, want [B C]", deps)
	}
	if deps := g.DependenciesOf("B"); len(deps) != 1 || deps[0] != "A" {
		t.Errorf("DependenciesOf(B) = %v, want [A]", deps)
	}
}

// TestGraphOrder tests whole-graph topological ordering.
func TestGraphOrder(t *testing.T) {
	g := New()
	g.Add(&Task{ID: "A"})
	g.Add(&Task{ID: "B", DependsOn: []string{"A"}})
	g.Add(&Task{ID: "C", DependsOn: []string{"A"}})
	g.Add(&Task{ID: "D", DependsOn: []string{"B", "C"}})

	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order() error = %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("Order() returned %d tasks, want 4", len(order))
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["A"] > pos["B"] || pos["A"] > pos["C"] || pos["B"] > pos["D"] || pos["C"] > pos["D"] {
		t.Errorf("Order() = %v violates dependency order", order)
	}
}

// TestGraphEvict tests terminal-node eviction rules.
func TestGraphEvict(t *testing.T) {
	g := New()
	g.Add(&Task{ID: "A"})
	g.Add(&Task{ID: "B", DependsOn: []string{"A"}})

	if err := g.Evict("A"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Evict on non-terminal task error = %v, want ErrInvalidTransition", err)
	}

	g.MarkRunning("A")
	g.MarkCompleted("A", time.Second)

	// B is still non-terminal, so A must be retained for B's lookups.
	if err := g.Evict("A"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Evict with live dependent error = %v, want ErrInvalidTransition", err)
	}

	g.MarkRunning("B")
	g.MarkCompleted("B", time.Second)

	if err := g.Evict("A"); err != nil {
		t.Fatalf("Evict(A) error = %v", err)
	}
	if _, exists := g.Get("A"); exists {
		t.Error("A still present after eviction")
	}
}

// TestGraphCounts tests status tallies and drained detection.
func TestGraphCounts(t *testing.T) {
	g := New()
	g.Add(&Task{ID: "A"})
	g.Add(&Task{ID: "B", DependsOn: []string{"A"}})

	c := g.CountByStatus()
	if c.Ready != 1 || c.Pending != 1 || c.Total() != 2 {
		t.Errorf("CountByStatus = %+v, want 1 ready, 1 pending", c)
	}
	if g.Drained() {
		t.Error("graph with ready work reported drained")
	}

	g.MarkRunning("A")
	g.MarkCompleted("A", time.Second)
	g.MarkRunning("B")
	g.MarkCompleted("B", time.Second)

	if !g.Drained() {
		t.Error("fully completed graph not drained")
	}
}
