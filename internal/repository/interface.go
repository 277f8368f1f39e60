package repository

import (
	"context"

	"pipeline-cloud/backend/pkg/models"
)

// MutateFunc is applied to a run while the store holds that run's lock.
// Returning an error rolls the whole mutation back; in particular the
// scheduler runs its queue enqueue inside the closure so that the state
// flip and the enqueue commit or revert together.
type MutateFunc func(ctx context.Context, run *models.WorkflowRun) error

// RunStore is the durable record of workflow runs. Mutations to the same
// run serialize; mutations to distinct runs are independent.
type RunStore interface {
	// Create persists a new run.
	Create(ctx context.Context, run *models.WorkflowRun) error

	// Get retrieves a run by id, or models.ErrNotFound.
	Get(ctx context.Context, id string) (*models.WorkflowRun, error)

	// Mutate applies fn to the run under the run's lock and persists the
	// result. The returned run is the committed state.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*models.WorkflowRun, error)

	// Delete removes a run.
	Delete(ctx context.Context, id string) error

	// List returns a page of runs ordered by creation time.
	List(ctx context.Context, offset, limit int) ([]*models.WorkflowRun, error)

	// Count returns the total number of runs.
	Count(ctx context.Context) (int, error)
}
