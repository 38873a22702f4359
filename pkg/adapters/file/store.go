package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/parley/pkg/domain"
)

// Store implements ports.HistoryStore using the local filesystem.
// It stores one JSON array per session in BasePath.
type Store struct {
	BasePath string
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".parley/histories".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".parley", "histories")
	}
	return &Store{BasePath: basePath}
}

// Save persists the session history atomically.
func (s *Store) Save(ctx context.Context, sessionID string, history domain.History) error {
	if err := validID(sessionID); err != nil {
		return err
	}

	data, err := domain.EncodeHistory(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := writeAtomic(s.BasePath, sessionID, data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Load retrieves the session history.
func (s *Store) Load(ctx context.Context, sessionID string) (domain.History, error) {
	if err := validID(sessionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.BasePath, sessionID+ext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: failed to read history file: %v", domain.ErrStorageUnavailable, err)
	}
	return domain.DecodeHistory(data)
}

// Delete removes the session file.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := validID(sessionID); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.BasePath, sessionID+ext))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to delete history file: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// List returns all stored session IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := listIDs(s.BasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list sessions: %v", domain.ErrStorageUnavailable, err)
	}
	return ids, nil
}
