package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeline-cloud/backend/internal/hub"
	"pipeline-cloud/backend/internal/queue"
	"pipeline-cloud/backend/internal/repository"
	"pipeline-cloud/backend/pkg/models"
)

type recordedPush struct {
	Event   string
	Payload any
}

type recordingSubscriber struct {
	mu     sync.Mutex
	pushes []recordedPush
}

func (r *recordingSubscriber) Notify(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, recordedPush{Event: event, Payload: payload})
}

func (r *recordingSubscriber) received() []recordedPush {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedPush, len(r.pushes))
	copy(out, r.pushes)
	return out
}

// failingQueue rejects every enqueue, standing in for an unreachable broker.
type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, msg *queue.Message) error {
	return errors.New("broker unreachable")
}
func (failingQueue) Close() error { return nil }

type fixture struct {
	service *WorkflowService
	store   *repository.MemoryRunStore
	queue   *queue.MemoryQueue
	hub     *hub.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryRunStore()
	q := queue.NewMemoryQueue()
	h := hub.New(logger)
	return &fixture{
		service: NewWorkflowService(store, q, h, logger),
		store:   store,
		queue:   q,
		hub:     h,
	}
}

func (f *fixture) createValidRun(t *testing.T) *models.WorkflowRun {
	t.Helper()
	ctx := context.Background()

	run, err := f.service.CreateRun(ctx, "test run")
	require.NoError(t, err)

	ref := "rnaseq"
	run, err = f.service.UpdateRun(ctx, run.ID, UpdateRunParams{
		RunnerReference: &ref,
		Arguments: map[string]models.Argument{
			"genome": {Type: "text", Value: json.RawMessage(`"GRCh38"`)},
		},
	})
	require.NoError(t, err)
	return run
}

func TestCreateRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.service.CreateRun(ctx, "fresh run")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.IsScheduled)
	assert.Zero(t, run.SubmittedProcesses)
	assert.Zero(t, run.CompletedProcesses)
}

func TestCreateRunInvalidName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"", strings.Repeat("x", 513)} {
		_, err := f.service.CreateRun(ctx, name)
		verrs, ok := IsValidationError(err)
		require.True(t, ok, "expected validation error for %q", name)
		assert.Contains(t, verrs, "name")
	}

	count, err := f.service.CountRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "no run may be persisted on validation failure")
}

func TestScheduleHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createValidRun(t)

	scheduled, err := f.service.Schedule(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, scheduled.IsScheduled)

	msgs := f.queue.Messages()
	require.Len(t, msgs, 1, "exactly one queue entry")
	assert.Equal(t, run.ID, msgs[0].WorkflowID)
	assert.Equal(t, "rnaseq", msgs[0].RunnerReference)
	assert.JSONEq(t, `"GRCh38"`, string(msgs[0].Arguments["genome"]))
}

func TestScheduleRejectsMissingArgumentValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.service.CreateRun(ctx, "unresolved run")
	require.NoError(t, err)
	_, err = f.service.UpdateRun(ctx, run.ID, UpdateRunParams{
		Arguments: map[string]models.Argument{
			"genome": {Type: "text"},
			"input":  {Type: "path", Value: json.RawMessage(`"/data"`)},
		},
	})
	require.NoError(t, err)

	_, err = f.service.Schedule(ctx, run.ID)
	verrs, ok := IsValidationError(err)
	require.True(t, ok)
	assert.Contains(t, verrs, "genome", "error names the unresolved argument")

	got, err := f.service.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, got.IsScheduled)
	assert.Zero(t, f.queue.Len(), "no queue entry on rejection")
}

func TestScheduleTwiceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createValidRun(t)

	_, err := f.service.Schedule(ctx, run.ID)
	require.NoError(t, err)

	_, err = f.service.Schedule(ctx, run.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyScheduled)
	assert.Equal(t, 1, f.queue.Len(), "no second queue entry")
}

func TestScheduleRollsBackWhenEnqueueFails(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryRunStore()
	h := hub.New(logger)
	service := NewWorkflowService(store, failingQueue{}, h, logger)
	ctx := context.Background()

	run, err := service.CreateRun(ctx, "doomed run")
	require.NoError(t, err)

	_, err = service.Schedule(ctx, run.ID)
	require.Error(t, err)

	got, err := service.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, got.IsScheduled, "state flip reverts when the enqueue fails")
}

func TestReportIncrementsAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createValidRun(t)
	_, err := f.service.Schedule(ctx, run.ID)
	require.NoError(t, err)

	sub := &recordingSubscriber{}
	f.hub.Join(run.ID, sub)

	err = f.service.ReportLogEvent(ctx, run.ID,
		[]byte(`{"event":"process_submitted","trace":{"task_id":1}}`))
	require.NoError(t, err)

	got, err := f.service.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SubmittedProcesses)
	assert.Zero(t, got.CompletedProcesses)

	pushes := sub.received()
	require.Len(t, pushes, 1)
	assert.Equal(t, hub.EventNewProgress, pushes[0].Event)
	progress, ok := pushes[0].Payload.(models.Progress)
	require.True(t, ok)
	assert.Equal(t, 1, progress.SubmittedProcesses)
	assert.Zero(t, progress.CompletedProcesses)
}

func TestReportUnknownKindIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createValidRun(t)

	sub := &recordingSubscriber{}
	f.hub.Join(run.ID, sub)

	err := f.service.ReportLogEvent(ctx, run.ID, []byte(`{"event":"started"}`))
	require.NoError(t, err)

	got, err := f.service.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Zero(t, got.SubmittedProcesses)
	assert.Empty(t, sub.received(), "no counter mutation, no fan-out")
}

func TestReportMissingRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := &recordingSubscriber{}
	f.hub.Join("ghost", sub)

	err := f.service.ReportLogEvent(ctx, "ghost",
		[]byte(`{"event":"process_submitted","trace":{}}`))
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, sub.received())

	err = f.service.ReportLogEvent(ctx, "ghost", []byte(`{"event":"started"}`))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReportMalformedPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createValidRun(t)

	err := f.service.ReportLogEvent(ctx, run.ID, []byte(`not json`))
	_, ok := IsValidationError(err)
	assert.True(t, ok)
}

func TestFinishedResetsAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createValidRun(t)
	_, err := f.service.Schedule(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, f.service.ReportLogEvent(ctx, run.ID,
		[]byte(`{"event":"process_submitted","trace":{}}`)))

	sub := &recordingSubscriber{}
	f.hub.Join(run.ID, sub)

	require.NoError(t, f.service.Finished(ctx, run.ID))

	got, err := f.service.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, got.IsScheduled)
	assert.Zero(t, got.SubmittedProcesses)
	assert.Zero(t, got.CompletedProcesses)

	pushes := sub.received()
	require.NotEmpty(t, pushes)
	assert.Equal(t, hub.EventFinishedWorkflow, pushes[len(pushes)-1].Event)

	// Finishing again is idempotent.
	require.NoError(t, f.service.Finished(ctx, run.ID))
	got, err = f.service.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Zero(t, got.SubmittedProcesses)
}

func TestRunCanCycleRepeatedly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createValidRun(t)

	for cycle := 0; cycle < 3; cycle++ {
		_, err := f.service.Schedule(ctx, run.ID)
		require.NoError(t, err)
		require.NoError(t, f.service.Finished(ctx, run.ID))
	}
	assert.Equal(t, 3, f.queue.Len())
}

func TestConcurrentReportsLoseNoUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.createValidRun(t)
	_, err := f.service.Schedule(ctx, run.ID)
	require.NoError(t, err)

	const n = 48
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			err := f.service.ReportLogEvent(ctx, run.ID,
				[]byte(`{"event":"process_submitted","trace":{}}`))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.service.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.SubmittedProcesses)
}
