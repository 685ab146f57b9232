package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const workerColumns = `id, handle, team_name, role, status, swarm_id, depth_level, session_id,
	restart_count, last_heartbeat, initial_prompt, worktree_path, worktree_branch, created_at, dismissed_at`

// WorkerRepo implements store.WorkerStore over SQLite.
type WorkerRepo struct {
	db *sql.DB
}

var _ store.WorkerStore = (*WorkerRepo)(nil)

func scanWorker(scanner interface{ Scan(...any) error }) (*model.Worker, error) {
	var w model.Worker
	var heartbeat, dismissedAt, createdAt sql.NullInt64
	err := scanner.Scan(
		&w.ID, &w.Handle, &w.TeamName, &w.Role, &w.Status, &w.SwarmID, &w.DepthLevel, &w.SessionID,
		&w.RestartCount, &heartbeat, &w.InitialPrompt, &w.WorktreePath, &w.WorktreeBranch, &createdAt, &dismissedAt,
	)
	if err != nil {
		return nil, err
	}
	w.CreatedAt = unixToTime(createdAt)
	w.LastHeartbeat = unixToTime(heartbeat)
	if dismissedAt.Valid {
		t := unixToTime(dismissedAt)
		w.DismissedAt = &t
	}
	return &w, nil
}

func (r *WorkerRepo) Insert(ctx context.Context, w *model.Worker) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workers (`+workerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Handle, w.TeamName, w.Role, w.Status, w.SwarmID, w.DepthLevel, w.SessionID,
		w.RestartCount, timeToUnix(w.LastHeartbeat), w.InitialPrompt, w.WorktreePath, w.WorktreeBranch,
		timeToUnix(w.CreatedAt), ptrTimeToUnix(w.DismissedAt),
	)
	if err != nil {
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

func (r *WorkerRepo) Update(ctx context.Context, w *model.Worker) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE workers SET handle=?, team_name=?, role=?, status=?, swarm_id=?, depth_level=?, session_id=?,
			restart_count=?, last_heartbeat=?, initial_prompt=?, worktree_path=?, worktree_branch=?, dismissed_at=?
		 WHERE id=?`,
		w.Handle, w.TeamName, w.Role, w.Status, w.SwarmID, w.DepthLevel, w.SessionID,
		w.RestartCount, timeToUnix(w.LastHeartbeat), w.InitialPrompt, w.WorktreePath, w.WorktreeBranch,
		ptrTimeToUnix(w.DismissedAt), w.ID,
	)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	return nil
}

func (r *WorkerRepo) Get(ctx context.Context, id string) (*model.Worker, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

func (r *WorkerRepo) GetByHandle(ctx context.Context, teamName, handle string) (*model.Worker, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE team_name=? AND handle=? AND status != 'dismissed'`,
		teamName, handle)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker by handle: %w", err)
	}
	return w, nil
}

func (r *WorkerRepo) ListActive(ctx context.Context, teamName string) ([]*model.Worker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE team_name=? AND status != 'dismissed' ORDER BY created_at ASC`,
		teamName)
	if err != nil {
		return nil, fmt.Errorf("list active workers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanWorkers(rows)
}

func (r *WorkerRepo) ListNonTerminal(ctx context.Context) ([]*model.Worker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE status != 'dismissed' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal workers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanWorkers(rows)
}

func scanWorkers(rows *sql.Rows) ([]*model.Worker, error) {
	var out []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating worker rows: %w", err)
	}
	return out, nil
}
