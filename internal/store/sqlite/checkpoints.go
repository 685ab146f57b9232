package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const checkpointColumns = `id, worker_handle, goal, now_field, test, done_json, blockers_json,
	questions_json, next_json, created_at`

// CheckpointRepo implements store.CheckpointStore over SQLite.
type CheckpointRepo struct {
	db *sql.DB
}

var _ store.CheckpointStore = (*CheckpointRepo)(nil)

func scanCheckpoint(scanner interface{ Scan(...any) error }) (*model.Checkpoint, error) {
	var c model.Checkpoint
	var doneJSON, blockersJSON, questionsJSON, nextJSON string
	var createdAt sql.NullInt64
	err := scanner.Scan(&c.ID, &c.WorkerHandle, &c.Goal, &c.Now, &c.Test,
		&doneJSON, &blockersJSON, &questionsJSON, &nextJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = unixToTime(createdAt)
	if err := fromJSON(doneJSON, &c.DoneThisSession); err != nil {
		return nil, err
	}
	if err := fromJSON(blockersJSON, &c.Blockers); err != nil {
		return nil, err
	}
	if err := fromJSON(questionsJSON, &c.Questions); err != nil {
		return nil, err
	}
	if err := fromJSON(nextJSON, &c.Next); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CheckpointRepo) Insert(ctx context.Context, c *model.Checkpoint) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checkpoints (`+checkpointColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.WorkerHandle, c.Goal, c.Now, c.Test,
		toJSON(c.DoneThisSession), toJSON(c.Blockers), toJSON(c.Questions), toJSON(c.Next),
		timeToUnix(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

func (r *CheckpointRepo) GetLatest(ctx context.Context, workerHandle string) (*model.Checkpoint, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE worker_handle=? ORDER BY created_at DESC LIMIT 1`,
		workerHandle)
	c, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}
	return c, nil
}

func (r *CheckpointRepo) List(ctx context.Context, workerHandle string, limit int) ([]*model.Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE worker_handle=? ORDER BY created_at DESC LIMIT ?`,
		workerHandle, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CheckpointRepo) Cleanup(ctx context.Context, workerHandle string, keepN int) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE worker_handle=? AND id NOT IN (
			SELECT id FROM checkpoints WHERE worker_handle=? ORDER BY created_at DESC LIMIT ?
		)`, workerHandle, workerHandle, keepN)
	if err != nil {
		return 0, fmt.Errorf("cleanup checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
