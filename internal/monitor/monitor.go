// Package monitor maintains a bounded sliding window of system-wide
// metric snapshots and derives a scalar health score plus per-agent
// slot allocations from it.
package monitor

import (
	"sync"
	"time"
)

// Snapshot is one observation of system-wide performance. Snapshots
// are append-only and never mutated after creation.
type Snapshot struct {
	Timestamp    time.Time
	ActiveAgents int
	Pending      int
	Running      int
	Completed    int
	Failed       int
	AvgLatency   time.Duration
	Throughput   float64 // completions per second
	Utilization  float64 // 0..1
	ErrorRate    float64 // 0..1
}

// ScoreWeights controls how the health score combines the four
// normalized signals. Weights are relative; they are normalized by
// their sum at scoring time.
type ScoreWeights struct {
	Throughput  float64
	Latency     float64
	Utilization float64
	ErrorRate   float64
}

// neutralScore is returned while the window is empty.
const neutralScore = 0.5

// Monitor owns the snapshot window. All access is mutex-guarded; the
// scheduler appends from its dispatch goroutine while collaborators
// read summaries concurrently.
type Monitor struct {
	mu        sync.Mutex
	window    []Snapshot
	size      int
	weights   ScoreWeights
	startedAt time.Time
}

// New creates a Monitor retaining at most size snapshots. Size is
// assumed validated as positive (see internal/config).
func New(size int, weights ScoreWeights) *Monitor {
	return &Monitor{
		size:      size,
		weights:   weights,
		startedAt: time.Now(),
	}
}

// Record appends a snapshot, evicting the oldest once the window is full.
func (m *Monitor) Record(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = append(m.window, s)
	if len(m.window) > m.size {
		m.window = m.window[1:]
	}
}

// Score derives the scalar health score from the current window:
// a weighted combination of normalized throughput, inverted latency,
// utilization, and inverted error rate, averaged over the window.
// Higher throughput or lower error rate never lowers the score.
// Returns the neutral baseline when the window is empty. Repeated
// calls without an intervening Record return the identical value.
func (m *Monitor) Score() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scoreLocked()
}

func (m *Monitor) scoreLocked() float64 {
	if len(m.window) == 0 {
		return neutralScore
	}

	total := m.weights.Throughput + m.weights.Latency + m.weights.Utilization + m.weights.ErrorRate
	if total <= 0 {
		return neutralScore
	}

	var sum float64
	for _, s := range m.window {
		// Each signal is squashed into [0, 1]. Throughput saturates
		// toward 1 as completions/sec grow; latency inverts so faster
		// is better.
		throughput := s.Throughput / (1 + s.Throughput)
		latency := 1 / (1 + s.AvgLatency.Seconds())
		sum += (m.weights.Throughput*throughput +
			m.weights.Latency*latency +
			m.weights.Utilization*clamp01(s.Utilization) +
			m.weights.ErrorRate*(1-clamp01(s.ErrorRate))) / total
	}
	return sum / float64(len(m.window))
}

// Latest returns the most recent snapshot, or false if none recorded.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.window) == 0 {
		return Snapshot{}, false
	}
	return m.window[len(m.window)-1], true
}

// MetricsSince returns retained snapshots taken at or after ts.
func (m *Monitor) MetricsSince(ts time.Time) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Snapshot
	for _, s := range m.window {
		if !s.Timestamp.Before(ts) {
			out = append(out, s)
		}
	}
	return out
}

// Summary aggregates the retained window.
type Summary struct {
	Snapshots      int
	Oldest, Newest time.Time
	AvgThroughput  float64
	AvgLatency     time.Duration
	AvgUtilization float64
	AvgErrorRate   float64
	Score          float64
	Uptime         time.Duration
}

// GetSummary returns aggregate statistics over the retained window.
func (m *Monitor) GetSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := Summary{
		Snapshots: len(m.window),
		Score:     m.scoreLocked(),
		Uptime:    time.Since(m.startedAt),
	}
	if len(m.window) == 0 {
		return sum
	}

	sum.Oldest = m.window[0].Timestamp
	sum.Newest = m.window[len(m.window)-1].Timestamp

	var latency time.Duration
	for _, s := range m.window {
		sum.AvgThroughput += s.Throughput
		sum.AvgUtilization += s.Utilization
		sum.AvgErrorRate += s.ErrorRate
		latency += s.AvgLatency
	}
	n := float64(len(m.window))
	sum.AvgThroughput /= n
	sum.AvgUtilization /= n
	sum.AvgErrorRate /= n
	sum.AvgLatency = latency / time.Duration(len(m.window))
	return sum
}

// Uptime returns the time since construction or the last Clear.
func (m *Monitor) Uptime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.startedAt)
}

// Clear resets the window and restarts the uptime baseline.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = nil
	m.startedAt = time.Now()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
