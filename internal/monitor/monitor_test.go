package monitor

import (
	"testing"
	"time"
)

// Default score weights used across the tests: throughput 0.35,
// error rate 0.30, latency 0.20, utilization 0.15. These mirror the
// production defaults in internal/config.
func testWeights() ScoreWeights {
	return ScoreWeights{Throughput: 0.35, ErrorRate: 0.30, Latency: 0.20, Utilization: 0.15}
}

// TestWindowEviction verifies FIFO eviction at the configured size.
func TestWindowEviction(t *testing.T) {
	m := New(3, testWeights())

	base := time.Now()
	for i := 0; i < 4; i++ {
		m.Record(Snapshot{Timestamp: base.Add(time.Duration(i) * time.Second), Completed: i})
	}

	sum := m.GetSummary()
	if sum.Snapshots != 3 {
		t.Errorf("retained %d snapshots, want 3", sum.Snapshots)
	}

	latest, ok := m.Latest()
	if !ok {
		t.Fatal("Latest() reported empty window")
	}
	if latest.Completed != 3 {
		t.Errorf("Latest().Completed = %d, want 3 (the 4th snapshot)", latest.Completed)
	}
	if since := m.MetricsSince(base.Add(time.Second)); len(since) != 3 {
		t.Errorf("MetricsSince retained %d, want 3 (oldest evicted)", len(since))
	}
}

// TestScoreNeutralBaseline verifies the empty-window default.
func TestScoreNeutralBaseline(t *testing.T) {
	m := New(5, testWeights())
	if got := m.Score(); got != 0.5 {
		t.Errorf("empty-window score = %v, want 0.5", got)
	}
}

// TestScoreIdempotent verifies repeated reads without a Record are identical.
func TestScoreIdempotent(t *testing.T) {
	m := New(5, testWeights())
	m.Record(Snapshot{Throughput: 2, AvgLatency: 100 * time.Millisecond, Utilization: 0.7, ErrorRate: 0.1})

	first := m.Score()
	second := m.Score()
	if first != second {
		t.Errorf("Score() not idempotent: %v then %v", first, second)
	}
}

// TestScoreMonotonic verifies the directional contract: more
// throughput or fewer errors never lowers the score.
func TestScoreMonotonic(t *testing.T) {
	base := Snapshot{Throughput: 1, AvgLatency: time.Second, Utilization: 0.5, ErrorRate: 0.5}

	t.Run("throughput up, score up", func(t *testing.T) {
		low := New(1, testWeights())
		low.Record(base)

		better := base
		better.Throughput = 10
		high := New(1, testWeights())
		high.Record(better)

		if high.Score() <= low.Score() {
			t.Errorf("score with higher throughput %v <= baseline %v", high.Score(), low.Score())
		}
	})

	t.Run("error rate down, score up", func(t *testing.T) {
		low := New(1, testWeights())
		low.Record(base)

		better := base
		better.ErrorRate = 0.0
		high := New(1, testWeights())
		high.Record(better)

		if high.Score() <= low.Score() {
			t.Errorf("score with lower error rate %v <= baseline %v", high.Score(), low.Score())
		}
	})
}

// TestScoreBounds verifies scores stay within [0, 1].
func TestScoreBounds(t *testing.T) {
	m := New(2, testWeights())
	m.Record(Snapshot{Throughput: 10000, Utilization: 5, ErrorRate: -1})
	m.Record(Snapshot{AvgLatency: time.Hour, ErrorRate: 1, Utilization: 0})

	score := m.Score()
	if score < 0 || score > 1 {
		t.Errorf("score = %v, want within [0, 1]", score)
	}
}

// TestClear verifies the window and uptime baseline reset.
func TestClear(t *testing.T) {
	m := New(3, testWeights())
	m.Record(Snapshot{Throughput: 1})

	m.Clear()

	if got := m.Score(); got != 0.5 {
		t.Errorf("score after Clear = %v, want neutral 0.5", got)
	}
	if _, ok := m.Latest(); ok {
		t.Error("Latest() returned a snapshot after Clear")
	}
	if up := m.Uptime(); up > time.Second {
		t.Errorf("uptime after Clear = %v, want near zero", up)
	}
}

// TestGetSummary verifies window aggregation.
func TestGetSummary(t *testing.T) {
	m := New(4, testWeights())
	base := time.Now()
	m.Record(Snapshot{Timestamp: base, Throughput: 2, AvgLatency: time.Second, Utilization: 0.4, ErrorRate: 0.2})
	m.Record(Snapshot{Timestamp: base.Add(time.Second), Throughput: 4, AvgLatency: 3 * time.Second, Utilization: 0.6, ErrorRate: 0.0})

	sum := m.GetSummary()
	if sum.Snapshots != 2 {
		t.Fatalf("Snapshots = %d, want 2", sum.Snapshots)
	}
	if sum.AvgThroughput != 3 {
		t.Errorf("AvgThroughput = %v, want 3", sum.AvgThroughput)
	}
	if sum.AvgLatency != 2*time.Second {
		t.Errorf("AvgLatency = %v, want 2s", sum.AvgLatency)
	}
	if sum.AvgErrorRate != 0.1 {
		t.Errorf("AvgErrorRate = %v, want 0.1", sum.AvgErrorRate)
	}
	if !sum.Oldest.Equal(base) || !sum.Newest.Equal(base.Add(time.Second)) {
		t.Errorf("window bounds = %v..%v", sum.Oldest, sum.Newest)
	}
}
