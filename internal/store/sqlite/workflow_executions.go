package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const workflowExecutionColumns = `id, workflow_id, swarm_id, status, context_json, started_at, completed_at, error`

// WorkflowExecutionRepo implements store.WorkflowExecutionStore over SQLite.
type WorkflowExecutionRepo struct {
	db *sql.DB
}

var _ store.WorkflowExecutionStore = (*WorkflowExecutionRepo)(nil)

func scanWorkflowExecution(scanner interface{ Scan(...any) error }) (*model.WorkflowExecution, error) {
	var e model.WorkflowExecution
	var contextJSON string
	var startedAt, completedAt sql.NullInt64
	if err := scanner.Scan(&e.ID, &e.WorkflowID, &e.SwarmID, &e.Status, &contextJSON, &startedAt, &completedAt, &e.Error); err != nil {
		return nil, err
	}
	e.StartedAt = unixToTimePtr(startedAt)
	e.CompletedAt = unixToTimePtr(completedAt)
	if err := fromJSON(contextJSON, &e.Context); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *WorkflowExecutionRepo) Insert(ctx context.Context, e *model.WorkflowExecution) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (`+workflowExecutionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.WorkflowID, e.SwarmID, e.Status, toJSON(e.Context), ptrTimeToUnix(e.StartedAt), ptrTimeToUnix(e.CompletedAt), e.Error,
	)
	if err != nil {
		return fmt.Errorf("insert workflow execution: %w", err)
	}
	return nil
}

func (r *WorkflowExecutionRepo) Update(ctx context.Context, e *model.WorkflowExecution) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status=?, context_json=?, started_at=?, completed_at=?, error=? WHERE id=?`,
		e.Status, toJSON(e.Context), ptrTimeToUnix(e.StartedAt), ptrTimeToUnix(e.CompletedAt), e.Error, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow execution: %w", err)
	}
	return nil
}

func (r *WorkflowExecutionRepo) Get(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowExecutionColumns+` FROM workflow_executions WHERE id=?`, id)
	e, err := scanWorkflowExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow execution: %w", err)
	}
	return e, nil
}

func (r *WorkflowExecutionRepo) ListRunning(ctx context.Context) ([]*model.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workflowExecutionColumns+` FROM workflow_executions WHERE status='running'`)
	if err != nil {
		return nil, fmt.Errorf("list running workflow executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.WorkflowExecution
	for rows.Next() {
		e, err := scanWorkflowExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow execution row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
