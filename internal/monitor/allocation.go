package monitor

import (
	"fmt"
	"math"
	"sort"
)

// AgentInfo identifies an agent and its caller-supplied base priority.
// The scheduler does not own this data; the agent-pool manager does.
type AgentInfo struct {
	ID           string
	BasePriority float64
}

// Allocation is a derived, recomputed-on-demand slot assignment for
// one agent. Never cached across calls with different inputs.
type Allocation struct {
	AgentID           string
	Slots             int
	EffectivePriority float64
	Reason            string
}

// Allocations partitions totalSlots across at most maxAgents agents,
// proportionally to base priority raised to a concentration exponent
// derived from the health score. A low score concentrates slots on
// the highest-priority agents to reduce contention; a high score
// flattens the distribution to maximize parallelism. The result is
// ordered by priority descending (agent ID breaking ties), always
// sums exactly to totalSlots, and lists excluded agents with zero
// slots and an explanatory reason.
//
// This is a pure function of (score, agents, totalSlots, maxAgents);
// the Monitor wrapper below feeds in its current score.
func Allocations(score float64, agents []AgentInfo, totalSlots, maxAgents int) []Allocation {
	if len(agents) == 0 || totalSlots <= 0 {
		return nil
	}

	ordered := make([]AgentInfo, len(agents))
	copy(ordered, agents)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].BasePriority != ordered[j].BasePriority {
			return ordered[i].BasePriority > ordered[j].BasePriority
		}
		return ordered[i].ID < ordered[j].ID
	})

	eligible := ordered
	if maxAgents > 0 && len(eligible) > maxAgents {
		eligible = eligible[:maxAgents]
	}

	// Exponent 2 at score 0 sharpens the distribution toward the top
	// priorities; exponent 0.5 at score 1 flattens it below straight
	// proportionality.
	gamma := 2 - 1.5*clamp01(score)

	effective := make([]float64, len(eligible))
	var sum float64
	for i, agent := range eligible {
		if agent.BasePriority > 0 {
			effective[i] = math.Pow(agent.BasePriority, gamma)
		}
		sum += effective[i]
	}

	result := make([]Allocation, 0, len(ordered))
	assigned := 0
	for i, agent := range eligible {
		share := 0.0
		if sum > 0 {
			share = effective[i] / sum
		} else {
			share = 1 / float64(len(eligible))
		}
		slots := int(share * float64(totalSlots))
		assigned += slots
		result = append(result, Allocation{
			AgentID:           agent.ID,
			Slots:             slots,
			EffectivePriority: effective[i],
			Reason:            fmt.Sprintf("share %.2f of %d slots at score %.2f", share, totalSlots, score),
		})
	}

	// Hand leftover slots to the highest-priority agents first; the
	// slice is already in priority order with deterministic ties.
	for i := 0; assigned < totalSlots; i = (i + 1) % len(result) {
		result[i].Slots++
		assigned++
	}

	for _, agent := range ordered[len(eligible):] {
		result = append(result, Allocation{
			AgentID: agent.ID,
			Reason:  fmt.Sprintf("excluded: beyond max-agents limit of %d", maxAgents),
		})
	}
	return result
}

// GetResourceAllocation computes allocations using the monitor's
// current health score.
func (m *Monitor) GetResourceAllocation(agents []AgentInfo, totalSlots, maxAgents int) []Allocation {
	return Allocations(m.Score(), agents, totalSlots, maxAgents)
}
