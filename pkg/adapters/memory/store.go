package memory

import (
	"context"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Store implements ports.HistoryStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]domain.History
	mu   sync.RWMutex
}

// NewStore creates a new in-memory history store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]domain.History),
	}
}

// Save persists the history in memory.
func (s *Store) Save(ctx context.Context, sessionID string, history domain.History) error {
	// Copy so later mutation by the caller cannot leak into the store
	copied := history.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = copied
	return nil
}

// Load retrieves the history from memory.
func (s *Store) Load(ctx context.Context, sessionID string) (domain.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return history.Clone(), nil
}

// Delete removes the history.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns stored sessions.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	return sessions, nil
}
