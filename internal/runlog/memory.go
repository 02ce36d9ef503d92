package runlog

import (
	"context"
	"sync"

	"github.com/i474232898/sensor-data-aggregation/internal/sensors"
)

// Memory keeps the most recent collection runs in process memory.
type Memory struct {
	mu sync.RWMutex

	runs    []*sensors.CollectionRun // oldest first
	maxRuns int                      // 0 = unlimited
}

// NewMemory creates a ledger retaining at most maxRuns runs.
// If maxRuns is <= 0, it is treated as unlimited.
func NewMemory(maxRuns int) *Memory {
	return &Memory{maxRuns: maxRuns}
}

// Record appends a run and enforces retention.
func (m *Memory) Record(ctx context.Context, run *sensors.CollectionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = append(m.runs, run)
	if m.maxRuns > 0 && len(m.runs) > m.maxRuns {
		over := len(m.runs) - m.maxRuns
		m.runs = m.runs[over:]
	}
	return nil
}

// Recent returns up to limit runs, newest first. limit <= 0 returns all.
func (m *Memory) Recent(ctx context.Context, limit int) ([]*sensors.CollectionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.runs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*sensors.CollectionRun, 0, n)
	for i := len(m.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}
