package store

import (
	"context"
	"sort"
	"sync"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// MemoryStore keeps runs in process memory.
type MemoryStore struct {
	mu           sync.RWMutex
	runs         map[string]*Run
	observations map[string][]optimization.Observation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:         make(map[string]*Run),
		observations: make(map[string][]optimization.Observation),
	}
}

func (m *MemoryStore) CreateRun(_ context.Context, run *Run) error {
	if err := validateID(run.ID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; ok {
		return ErrExists
	}
	m.runs[run.ID] = copyRun(run)
	return nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; !ok {
		return &NotFoundError{ID: run.ID}
	}
	m.runs[run.ID] = copyRun(run)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return copyRun(run), nil
}

func (m *MemoryStore) ListRuns(_ context.Context) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, copyRun(run))
	}
	sortRuns(runs)
	return runs, nil
}

func (m *MemoryStore) AppendObservation(_ context.Context, id string, obs optimization.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; !ok {
		return &NotFoundError{ID: id}
	}
	m.observations[id] = append(m.observations[id], obs)
	return nil
}

func (m *MemoryStore) Observations(_ context.Context, id string) ([]optimization.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.runs[id]; !ok {
		return nil, &NotFoundError{ID: id}
	}
	return append([]optimization.Observation(nil), m.observations[id]...), nil
}

func (m *MemoryStore) Close() error { return nil }

func copyRun(run *Run) *Run {
	c := *run
	if run.Best != nil {
		best := *run.Best
		c.Best = &best
	}
	return &c
}

func sortRuns(runs []*Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
