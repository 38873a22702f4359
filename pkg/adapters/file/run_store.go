package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/parley/pkg/domain"
)

// RunStore implements ports.RunStore using the local filesystem.
type RunStore struct {
	BasePath string
}

// NewRunStore creates a RunStore. If basePath is empty, it defaults to ".parley/runs".
func NewRunStore(basePath string) *RunStore {
	if basePath == "" {
		basePath = filepath.Join(".parley", "runs")
	}
	return &RunStore{BasePath: basePath}
}

// Save persists the run record atomically.
func (s *RunStore) Save(ctx context.Context, run *domain.WorkflowRun) error {
	if err := validID(run.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := writeAtomic(s.BasePath, run.ID, data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Load retrieves a run record.
func (s *RunStore) Load(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	if err := validID(runID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.BasePath, runID+ext))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("%w: failed to read run file: %v", domain.ErrStorageUnavailable, err)
	}

	var run domain.WorkflowRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", domain.ErrCorruptState, runID, err)
	}
	return &run, nil
}

// Delete removes the run file.
func (s *RunStore) Delete(ctx context.Context, runID string) error {
	if err := validID(runID); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.BasePath, runID+ext))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to delete run file: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// List returns all stored run IDs.
func (s *RunStore) List(ctx context.Context) ([]string, error) {
	ids, err := listIDs(s.BasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list runs: %v", domain.ErrStorageUnavailable, err)
	}
	return ids, nil
}
