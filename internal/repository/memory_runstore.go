package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"pipeline-cloud/backend/pkg/models"
)

// MemoryRunStore is an in-memory implementation of the RunStore interface,
// used by tests and local development. A single mutex guards the whole map,
// which trivially satisfies the per-run serialization contract.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]*models.WorkflowRun
}

// NewMemoryRunStore creates an empty in-memory store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*models.WorkflowRun)}
}

// Create persists a new run.
func (s *MemoryRunStore) Create(ctx context.Context, run *models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneRun(run)
	s.runs[run.ID] = cp
	return nil
}

// Get retrieves a run by its ID.
func (s *MemoryRunStore) Get(ctx context.Context, id string) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneRun(run), nil
}

// Mutate applies fn to a copy of the run while holding the store lock and
// commits the copy only when fn succeeds.
func (s *MemoryRunStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.runs[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	next := cloneRun(current)
	if err := fn(ctx, next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.runs[id] = next
	return cloneRun(next), nil
}

// Delete removes a run.
func (s *MemoryRunStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.runs, id)
	return nil
}

// List returns a page of runs ordered by creation time, newest first.
func (s *MemoryRunStore) List(ctx context.Context, offset, limit int) ([]*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*models.WorkflowRun, 0, len(s.runs))
	for _, run := range s.runs {
		all = append(all, cloneRun(run))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Count returns the total number of runs.
func (s *MemoryRunStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs), nil
}

func cloneRun(run *models.WorkflowRun) *models.WorkflowRun {
	cp := *run
	if run.Arguments != nil {
		cp.Arguments = make(map[string]models.Argument, len(run.Arguments))
		for name, arg := range run.Arguments {
			cp.Arguments[name] = arg
		}
	}
	return &cp
}
