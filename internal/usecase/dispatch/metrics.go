package dispatch

import (
	"sync"
	"time"

	"agenthub/internal/domain"
)

// metricsBook tracks running performance totals per agent.
type metricsBook struct {
	mu      sync.Mutex
	byAgent map[string]*domain.AgentMetrics
}

func newMetricsBook() *metricsBook {
	return &metricsBook{byAgent: make(map[string]*domain.AgentMetrics)}
}

func (b *metricsBook) ensure(agentID string) *domain.AgentMetrics {
	m, ok := b.byAgent[agentID]
	if !ok {
		m = &domain.AgentMetrics{AgentID: agentID, LastReset: time.Now()}
		b.byAgent[agentID] = m
	}
	return m
}

// RecordSuccess folds a successful turn into the agent's running average.
func (b *metricsBook) RecordSuccess(agentID string, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.ensure(agentID)
	m.TotalRequests++
	m.SuccessfulRequests++
	m.TotalTime += elapsed
	m.AverageResponseTime = m.TotalTime / time.Duration(m.SuccessfulRequests)
}

// RecordFailure counts a failed turn. Failures do not affect the average.
func (b *metricsBook) RecordFailure(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.ensure(agentID)
	m.TotalRequests++
	m.FailedRequests++
}

// Snapshot returns a copy of the agent's metrics.
func (b *metricsBook) Snapshot(agentID string) domain.AgentMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.ensure(agentID)
}

// Reset zeroes the agent's counters.
func (b *metricsBook) Reset(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byAgent[agentID] = &domain.AgentMetrics{AgentID: agentID, LastReset: time.Now()}
}
