package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const workflowStepColumns = `id, execution_id, step_key, step_type, status, config_json, depends_on_json,
	blocked_by_count, output_json, guard, on_failure, retry_count, max_retries, timeout_ms,
	started_at, completed_at, error`

// WorkflowStepRepo implements store.WorkflowStepStore over SQLite.
type WorkflowStepRepo struct {
	db *sql.DB
}

var _ store.WorkflowStepStore = (*WorkflowStepRepo)(nil)

func scanWorkflowStep(scanner interface{ Scan(...any) error }) (*model.WorkflowStep, error) {
	var s model.WorkflowStep
	var configJSON, dependsOnJSON, outputJSON string
	var startedAt, completedAt sql.NullInt64
	err := scanner.Scan(
		&s.ID, &s.ExecutionID, &s.StepKey, &s.StepType, &s.Status, &configJSON, &dependsOnJSON,
		&s.BlockedByCount, &outputJSON, &s.Guard, &s.OnFailure, &s.RetryCount, &s.MaxRetries, &s.TimeoutMs,
		&startedAt, &completedAt, &s.Error,
	)
	if err != nil {
		return nil, err
	}
	s.StartedAt = unixToTimePtr(startedAt)
	s.CompletedAt = unixToTimePtr(completedAt)
	if err := fromJSON(configJSON, &s.Config); err != nil {
		return nil, err
	}
	if err := fromJSON(dependsOnJSON, &s.DependsOn); err != nil {
		return nil, err
	}
	if outputJSON != "" {
		if err := fromJSON(outputJSON, &s.Output); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func (r *WorkflowStepRepo) InsertBatch(ctx context.Context, steps []*model.WorkflowStep) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert-batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range steps {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_steps (`+workflowStepColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			s.ID, s.ExecutionID, s.StepKey, s.StepType, s.Status, toJSON(s.Config), toJSON(s.DependsOn),
			s.BlockedByCount, toJSON(s.Output), s.Guard, s.OnFailure, s.RetryCount, s.MaxRetries, s.TimeoutMs,
			ptrTimeToUnix(s.StartedAt), ptrTimeToUnix(s.CompletedAt), s.Error,
		)
		if err != nil {
			return fmt.Errorf("insert workflow step %s: %w", s.StepKey, err)
		}
	}
	return tx.Commit()
}

func (r *WorkflowStepRepo) Update(ctx context.Context, s *model.WorkflowStep) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE workflow_steps SET status=?, blocked_by_count=?, output_json=?, retry_count=?,
			started_at=?, completed_at=?, error=? WHERE id=?`,
		s.Status, s.BlockedByCount, toJSON(s.Output), s.RetryCount,
		ptrTimeToUnix(s.StartedAt), ptrTimeToUnix(s.CompletedAt), s.Error, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow step: %w", err)
	}
	return nil
}

func (r *WorkflowStepRepo) Get(ctx context.Context, id string) (*model.WorkflowStep, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowStepColumns+` FROM workflow_steps WHERE id=?`, id)
	s, err := scanWorkflowStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow step: %w", err)
	}
	return s, nil
}

func (r *WorkflowStepRepo) ListByExecution(ctx context.Context, executionID string) ([]*model.WorkflowStep, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workflowStepColumns+` FROM workflow_steps WHERE execution_id=?`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.WorkflowStep
	for rows.Next() {
		s, err := scanWorkflowStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow step row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetReadySteps claims up to limit ready steps in executionID by flipping
// them to running inside a single transaction, so two concurrent processor
// cycles never both claim the same step.
func (r *WorkflowStepRepo) GetReadySteps(ctx context.Context, executionID string, limit int) ([]*model.WorkflowStep, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin get-ready-steps tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM workflow_steps WHERE execution_id=? AND status='ready' ORDER BY step_key ASC LIMIT ?`,
		executionID, limit)
	if err != nil {
		return nil, fmt.Errorf("select ready step ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var claimed []*model.WorkflowStep
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE workflow_steps SET status='running' WHERE id=?`, id); err != nil {
			return nil, fmt.Errorf("claim workflow step %s: %w", id, err)
		}
		row := tx.QueryRowContext(ctx, `SELECT `+workflowStepColumns+` FROM workflow_steps WHERE id=?`, id)
		s, err := scanWorkflowStep(row)
		if err != nil {
			return nil, fmt.Errorf("reload claimed step %s: %w", id, err)
		}
		claimed = append(claimed, s)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit get-ready-steps tx: %w", err)
	}
	return claimed, nil
}

// DecrementDependents atomically decrements blocked_by_count on every step
// in executionID whose depends_on_json contains completedKey, flipping any
// row that reaches zero from pending to ready.
func (r *WorkflowStepRepo) DecrementDependents(ctx context.Context, executionID, completedKey string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decrement-dependents tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, depends_on_json, blocked_by_count, status FROM workflow_steps WHERE execution_id=?`,
		executionID)
	if err != nil {
		return fmt.Errorf("scan workflow steps: %w", err)
	}
	type row struct {
		id      string
		deps    []string
		blocked int
		status  string
	}
	var toUpdate []row
	for rows.Next() {
		var rr row
		var depsJSON string
		if err := rows.Scan(&rr.id, &depsJSON, &rr.blocked, &rr.status); err != nil {
			_ = rows.Close()
			return err
		}
		if err := fromJSON(depsJSON, &rr.deps); err != nil {
			_ = rows.Close()
			return err
		}
		for _, d := range rr.deps {
			if d == completedKey {
				toUpdate = append(toUpdate, rr)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_ = rows.Close()

	for _, rr := range toUpdate {
		newCount := rr.blocked - 1
		if newCount < 0 {
			newCount = 0
		}
		newStatus := rr.status
		if newCount == 0 && rr.status == string(model.StepPending) {
			newStatus = string(model.StepReady)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE workflow_steps SET blocked_by_count=?, status=? WHERE id=?`, newCount, newStatus, rr.id); err != nil {
			return fmt.Errorf("decrement blocked_by_count for step %s: %w", rr.id, err)
		}
	}
	return tx.Commit()
}
