package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// HistoryStore persists the History snapshot of each session.
// Adapters must wrap connectivity failures with domain.ErrStorageUnavailable
// and undecodable blobs with domain.ErrCorruptState.
type HistoryStore interface {
	// Save replaces the full History of a session.
	Save(ctx context.Context, sessionID string, history domain.History) error

	// Load retrieves the History of a session.
	// Returns domain.ErrSessionNotFound if nothing was ever saved for it.
	Load(ctx context.Context, sessionID string) (domain.History, error)

	// Delete removes the History of a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the identifiers of all stored sessions.
	List(ctx context.Context) ([]string, error)
}

// RunStore persists workflow runs, enabling "Stop & Resume" execution.
type RunStore interface {
	// Save replaces the stored record of a run.
	Save(ctx context.Context, run *domain.WorkflowRun) error

	// Load retrieves a run. Returns domain.ErrRunNotFound if it does not exist.
	Load(ctx context.Context, runID string) (*domain.WorkflowRun, error)

	// Delete removes a run record.
	Delete(ctx context.Context, runID string) error

	// List returns the identifiers of all stored runs.
	List(ctx context.Context) ([]string, error)
}
