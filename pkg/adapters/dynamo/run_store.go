package dynamo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
)

// RunStore implements ports.RunStore on DynamoDB.
type RunStore struct {
	table
}

// NewRunStore creates a run store on the given table.
func NewRunStore(api dynamodbAPI, tableName string, opts ...Option) (*RunStore, error) {
	t, err := newTable(api, tableName, opts)
	if err != nil {
		return nil, err
	}
	return &RunStore{table: t}, nil
}

// Save replaces the run item.
func (s *RunStore) Save(ctx context.Context, run *domain.WorkflowRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("dynamo: marshal run: %w", err)
	}
	return s.put(ctx, pkRun+run.ID, skRun, "runId", run.ID, "run", string(data))
}

// Load reads the run item.
func (s *RunStore) Load(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	payload, ok, err := s.get(ctx, pkRun+runID, skRun, "run")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrRunNotFound
	}

	var run domain.WorkflowRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", domain.ErrCorruptState, runID, err)
	}
	return &run, nil
}

// Delete removes the run item.
func (s *RunStore) Delete(ctx context.Context, runID string) error {
	return s.delete(ctx, pkRun+runID, skRun)
}

// List scans the table for run items.
func (s *RunStore) List(ctx context.Context) ([]string, error) {
	return s.list(ctx, skRun, "runId")
}
