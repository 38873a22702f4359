package memory

import (
	"context"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// RunStore implements ports.RunStore in memory.
type RunStore struct {
	data map[string]*domain.WorkflowRun
	mu   sync.RWMutex
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		data: make(map[string]*domain.WorkflowRun),
	}
}

// Save persists a deep copy of the run.
func (s *RunStore) Save(ctx context.Context, run *domain.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[run.ID] = run.Clone()
	return nil
}

// Load returns a deep copy of the stored run.
func (s *RunStore) Load(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.data[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return run.Clone(), nil
}

// Delete removes the run.
func (s *RunStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
	return nil
}

// List returns stored run identifiers.
func (s *RunStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}
