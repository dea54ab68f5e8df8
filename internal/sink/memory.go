package sink

import (
	"context"
	"sync"

	"price-aggregator/internal/models"
)

// Memory keeps results in process. Used by tests and the one-shot CLI.
type Memory struct {
	mu      sync.RWMutex
	byJob   map[string]models.AggregateResult
	latest  *models.AggregateResult
	writes  int
	failErr error
}

func NewMemory() *Memory {
	return &Memory{byJob: make(map[string]models.AggregateResult)}
}

// FailWith makes every following Write return err. Pass nil to clear.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Memory) Write(_ context.Context, result models.AggregateResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.byJob[result.JobID] = result
	m.latest = &result
	m.writes++
	return nil
}

func (m *Memory) ReadLatest(_ context.Context) (models.AggregateResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return models.AggregateResult{}, ErrNotFound
	}
	return *m.latest, nil
}

func (m *Memory) Read(_ context.Context, jobID string) (models.AggregateResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.byJob[jobID]
	if !ok {
		return models.AggregateResult{}, ErrNotFound
	}
	return res, nil
}

// Writes reports how many results were stored.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
