// Package agent is the execution layer: a pool of named agents that
// run dispatched tasks, with per-agent circuit breaking and
// exponential backoff retry for retryable failures. The scheduler
// only sees the resulting error; how work actually runs is this
// package's concern.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/ripplesched/ripple/internal/config"
	"github.com/ripplesched/ripple/internal/graph"
	"github.com/ripplesched/ripple/internal/monitor"
)

// ErrUnknownAgent is returned when dispatching to an unregistered agent.
var ErrUnknownAgent = errors.New("unknown agent")

// Executor runs a single task to completion. Implementations must
// honor context cancellation.
type Executor interface {
	Execute(ctx context.Context, task *graph.Task) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *graph.Task) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task *graph.Task) error {
	return f(ctx, task)
}

type member struct {
	info    monitor.AgentInfo
	exec    Executor
	breaker *gobreaker.CircuitBreaker
}

// Pool holds the registered agents.
type Pool struct {
	mu      sync.RWMutex
	members map[string]*member
	retry   config.Retry
}

// NewPool creates an empty pool with the given retry policy.
func NewPool(retry config.Retry) *Pool {
	return &Pool{
		members: make(map[string]*member),
		retry:   retry,
	}
}

// Register adds an agent backed by the given executor. Registering an
// existing ID replaces its executor and resets its breaker.
func (p *Pool) Register(info monitor.AgentInfo, exec Executor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.members[info.ID] = &member{
		info:    info,
		exec:    exec,
		breaker: newBreaker(info.ID),
	}
}

// Agents returns the registered agents ordered by base priority
// descending, agent ID breaking ties. This is the AgentInfo list fed
// into allocation.
func (p *Pool) Agents() []monitor.AgentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	agents := make([]monitor.AgentInfo, 0, len(p.members))
	for _, m := range p.members {
		agents = append(agents, m.info)
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].BasePriority != agents[j].BasePriority {
			return agents[i].BasePriority > agents[j].BasePriority
		}
		return agents[i].ID < agents[j].ID
	})
	return agents
}

// Run executes the task on the named agent. Retryable tasks retry
// with exponential backoff until the policy gives up; every attempt
// goes through the agent's circuit breaker so an agent that keeps
// failing is short-circuited instead of hammered.
func (p *Pool) Run(ctx context.Context, agentID string, task *graph.Task) error {
	p.mu.RLock()
	m, ok := p.members[agentID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := m.breaker.Execute(func() (interface{}, error) {
			return nil, m.exec.Execute(ctx, task)
		})
		if err == nil {
			return nil
		}

		// Open circuit: stop retrying, the agent needs its cool-down.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if !task.Retryable {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.retry.InitialInterval
	policy.MaxInterval = p.retry.MaxInterval
	policy.MaxElapsedTime = p.retry.MaxElapsedTime
	policy.Multiplier = p.retry.Multiplier

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// newBreaker builds the per-agent circuit breaker: trips after 5
// consecutive failures, stays open 30s, then allows 3 probes.
// Cancellation does not count against the agent.
func newBreaker(agentID string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentID,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
}
