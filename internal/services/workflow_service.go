// Package services implements the workflow run lifecycle: scheduling
// handoff, progress ingestion and the fan-out of live updates.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"pipeline-cloud/backend/internal/hub"
	"pipeline-cloud/backend/internal/queue"
	"pipeline-cloud/backend/internal/repository"
	"pipeline-cloud/backend/pkg/models"
)

// UpdateRunParams are the mutable fields of an unscheduled run. Nil fields
// are left untouched.
type UpdateRunParams struct {
	Name            *string
	RunnerReference *string
	Arguments       map[string]models.Argument
}

// WorkflowService orchestrates the run lifecycle across the store, the
// work queue and the subscription hub. All per-run mutations go through
// the store's locked Mutate, so two operations on the same run never
// interleave.
type WorkflowService struct {
	store  repository.RunStore
	queue  queue.Queue
	hub    *hub.Hub
	logger *slog.Logger

	runsScheduled  metric.Int64Counter
	eventsIngested metric.Int64Counter
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(store repository.RunStore, q queue.Queue, h *hub.Hub, logger *slog.Logger) *WorkflowService {
	meter := otel.Meter("pipeline-cloud/backend/services")
	runsScheduled, _ := meter.Int64Counter("workflow.runs.scheduled",
		metric.WithDescription("Number of runs handed off to the work queue"))
	eventsIngested, _ := meter.Int64Counter("workflow.runner.events",
		metric.WithDescription("Number of runner log events ingested"))

	return &WorkflowService{
		store:          store,
		queue:          q,
		hub:            h,
		logger:         logger,
		runsScheduled:  runsScheduled,
		eventsIngested: eventsIngested,
	}
}

// CreateRun creates an unscheduled run with zeroed counters.
func (s *WorkflowService) CreateRun(ctx context.Context, name string) (*models.WorkflowRun, error) {
	if verrs := models.ValidateName(name); !verrs.Empty() {
		return nil, verrs
	}

	now := time.Now().UTC()
	run := &models.WorkflowRun{
		ID:        uuid.New().String(),
		Name:      name,
		Arguments: map[string]models.Argument{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.logger.Info("workflow run created", "run_id", run.ID, "name", run.Name)
	return run, nil
}

// GetRun retrieves a run by id.
func (s *WorkflowService) GetRun(ctx context.Context, id string) (*models.WorkflowRun, error) {
	return s.store.Get(ctx, id)
}

// ListRuns returns a page of runs.
func (s *WorkflowService) ListRuns(ctx context.Context, offset, limit int) ([]*models.WorkflowRun, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, offset, limit)
}

// CountRuns returns the total number of runs.
func (s *WorkflowService) CountRuns(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// UpdateRun mutates the run's name, runner reference or arguments.
// Validation collects every failing field before rejecting.
func (s *WorkflowService) UpdateRun(ctx context.Context, id string, params UpdateRunParams) (*models.WorkflowRun, error) {
	verrs := models.ValidationErrors{}
	if params.Name != nil {
		verrs.Merge(models.ValidateName(*params.Name))
	}
	if err := verrs.OrNil(); err != nil {
		return nil, err
	}

	return s.store.Mutate(ctx, id, func(ctx context.Context, run *models.WorkflowRun) error {
		if params.Name != nil {
			run.Name = *params.Name
		}
		if params.RunnerReference != nil {
			run.RunnerReference = *params.RunnerReference
		}
		if params.Arguments != nil {
			run.Arguments = params.Arguments
		}
		return nil
	})
}

// DeleteRun removes a run.
func (s *WorkflowService) DeleteRun(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("workflow run deleted", "run_id", id)
	return nil
}

// Schedule flips the run to scheduled and enqueues the handoff message,
// atomically: the enqueue happens inside the store transaction, so a queue
// failure rolls the state flip back and the caller sees neither half.
func (s *WorkflowService) Schedule(ctx context.Context, id string) (*models.WorkflowRun, error) {
	run, err := s.store.Mutate(ctx, id, func(ctx context.Context, run *models.WorkflowRun) error {
		if run.IsScheduled {
			return models.ErrAlreadyScheduled
		}
		if missing := run.UnresolvedArguments(); len(missing) > 0 {
			sort.Strings(missing)
			verrs := models.ValidationErrors{}
			for _, name := range missing {
				verrs.Add(name, "requires a value before scheduling")
			}
			return verrs
		}
		run.IsScheduled = true
		return s.queue.Enqueue(ctx, queue.NewMessage(run))
	})
	if err != nil {
		return nil, err
	}

	s.runsScheduled.Add(ctx, 1)
	s.logger.Info("workflow run scheduled", "run_id", run.ID, "runner", run.RunnerReference)
	return run, nil
}

// ReportLogEvent ingests one runner log event. process_submitted and
// process_completed mutate the counters and trigger a new-progress fan-out
// after the mutation commits; every other event kind is accepted and
// ignored. Delivery is at-least-once: duplicates are not detected, each
// call increments.
func (s *WorkflowService) ReportLogEvent(ctx context.Context, id string, raw []byte) error {
	event, err := models.ParseRunnerEvent(raw)
	if err != nil {
		return err
	}
	s.eventsIngested.Add(ctx, 1)

	if event.Kind == models.EventOther {
		// Unknown kinds never touch the counters, but a report against a
		// missing run is still NotFound.
		if _, err := s.store.Get(ctx, id); err != nil {
			return err
		}
		s.logger.Debug("ignoring runner event", "run_id", id, "event", string(event.Raw))
		return nil
	}

	run, err := s.store.Mutate(ctx, id, func(ctx context.Context, run *models.WorkflowRun) error {
		switch event.Kind {
		case models.EventProcessSubmitted:
			run.SubmittedProcesses++
		case models.EventProcessCompleted:
			run.CompletedProcesses++
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.hub.Publish(id, hub.EventNewProgress, models.Progress{
		SubmittedProcesses: run.SubmittedProcesses,
		CompletedProcesses: run.CompletedProcesses,
	})
	return nil
}

// Finished closes the run cycle: unschedules the run, zeroes both counters
// and notifies subscribers. Calling it on an already unscheduled run is a
// harmless repeat of the same transition.
func (s *WorkflowService) Finished(ctx context.Context, id string) error {
	_, err := s.store.Mutate(ctx, id, func(ctx context.Context, run *models.WorkflowRun) error {
		run.IsScheduled = false
		run.SubmittedProcesses = 0
		run.CompletedProcesses = 0
		return nil
	})
	if err != nil {
		return err
	}

	s.hub.Publish(id, hub.EventFinishedWorkflow, struct{}{})
	s.logger.Info("workflow run finished", "run_id", id)
	return nil
}

// IsValidationError reports whether err carries field-keyed validation
// detail the API should surface as a 422.
func IsValidationError(err error) (models.ValidationErrors, bool) {
	var verrs models.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs, true
	}
	return nil, false
}
