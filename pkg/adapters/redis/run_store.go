package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// RunStore implements ports.RunStore using Redis.
type RunStore struct {
	client *backend.Client
	options
}

// NewRunStoreFromClient creates a Redis run store from an existing client.
func NewRunStoreFromClient(client *backend.Client, opts ...Option) *RunStore {
	return &RunStore{
		client:  client,
		options: buildOptions(defaultRunPrefix, opts),
	}
}

// Save persists the run record.
func (s *RunStore) Save(ctx context.Context, run *domain.WorkflowRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	return putIndexed(ctx, s.client, s.options, run.ID, data)
}

// Load retrieves a run record.
func (s *RunStore) Load(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	val, err := s.client.Get(ctx, s.prefix+runID).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("%w: failed to get run from redis: %v", domain.ErrStorageUnavailable, err)
	}

	var run domain.WorkflowRun
	if err := json.Unmarshal(val, &run); err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", domain.ErrCorruptState, runID, err)
	}
	return &run, nil
}

// Delete removes a run record.
func (s *RunStore) Delete(ctx context.Context, runID string) error {
	return deleteIndexed(ctx, s.client, s.options, runID)
}

// List returns stored run identifiers.
func (s *RunStore) List(ctx context.Context) ([]string, error) {
	return listIndexed(ctx, s.client, s.options)
}
