package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pipeline-cloud/backend/pkg/models"
)

const runColumns = `id, name, runner_reference, arguments, is_scheduled,
	submitted_processes, completed_processes, created_at, updated_at`

// PostgresRunStore is a PostgreSQL implementation of the RunStore
// interface. Per-run serialization relies on SELECT ... FOR UPDATE row
// locks inside a transaction.
type PostgresRunStore struct {
	db *pgxpool.Pool
}

// NewPostgresRunStore creates a new PostgresRunStore.
func NewPostgresRunStore(db *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

// EnsureSchema creates the workflow_runs table if it does not exist yet.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS workflow_runs (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		runner_reference TEXT NOT NULL DEFAULT '',
		arguments JSONB NOT NULL DEFAULT '{}',
		is_scheduled BOOLEAN NOT NULL DEFAULT FALSE,
		submitted_processes INT NOT NULL DEFAULT 0,
		completed_processes INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("ensure workflow_runs schema: %w", err)
	}
	return nil
}

// Create persists a new run.
func (s *PostgresRunStore) Create(ctx context.Context, run *models.WorkflowRun) error {
	args, err := marshalArguments(run.Arguments)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Name, run.RunnerReference, args, run.IsScheduled,
		run.SubmittedProcesses, run.CompletedProcesses, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// Get retrieves a run by its ID.
func (s *PostgresRunStore) Get(ctx context.Context, id string) (*models.WorkflowRun, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, id)
	return scanRun(row)
}

// Mutate applies fn to the run inside a transaction holding the row lock.
// The closure may touch external systems (the queue enqueue during
// scheduling); any error from it rolls the transaction back so the record
// reverts untouched.
func (s *PostgresRunStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*models.WorkflowRun, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin run mutation: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE id = $1 FOR UPDATE`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	if err := fn(ctx, run); err != nil {
		return nil, err
	}
	run.UpdatedAt = time.Now().UTC()

	args, err := marshalArguments(run.Arguments)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE workflow_runs
		 SET name = $1, runner_reference = $2, arguments = $3, is_scheduled = $4,
		     submitted_processes = $5, completed_processes = $6, updated_at = $7
		 WHERE id = $8`,
		run.Name, run.RunnerReference, args, run.IsScheduled,
		run.SubmittedProcesses, run.CompletedProcesses, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update workflow run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit run mutation: %w", err)
	}
	return run, nil
}

// Delete removes a run.
func (s *PostgresRunStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflow_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// List returns a page of runs ordered by creation time, newest first.
func (s *PostgresRunStore) List(ctx context.Context, offset, limit int) ([]*models.WorkflowRun, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM workflow_runs
		 ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Count returns the total number of runs.
func (s *PostgresRunStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_runs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count workflow runs: %w", err)
	}
	return count, nil
}

func scanRun(row pgx.Row) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var args []byte
	err := row.Scan(&run.ID, &run.Name, &run.RunnerReference, &args,
		&run.IsScheduled, &run.SubmittedProcesses, &run.CompletedProcesses,
		&run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow run: %w", err)
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &run.Arguments); err != nil {
			return nil, fmt.Errorf("decode run arguments: %w", err)
		}
	}
	return &run, nil
}

func marshalArguments(args map[string]models.Argument) ([]byte, error) {
	if args == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode run arguments: %w", err)
	}
	return data, nil
}
