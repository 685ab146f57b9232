package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const spawnColumns = `id, requester_handle, target_agent_type, depth_level, swarm_id, priority, status,
	payload_task, payload_context, payload_checkpoint_json, depends_on_json, blocked_by_count,
	created_at, processed_at, spawned_worker_id`

// SpawnRequestRepo implements store.SpawnRequestStore over SQLite.
type SpawnRequestRepo struct {
	db *sql.DB
}

var _ store.SpawnRequestStore = (*SpawnRequestRepo)(nil)

func scanSpawnRequest(scanner interface{ Scan(...any) error }) (*model.SpawnRequest, error) {
	var r model.SpawnRequest
	var dependsOn string
	var createdAt, processedAt sql.NullInt64
	var checkpointJSON string
	err := scanner.Scan(
		&r.ID, &r.RequesterHandle, &r.TargetAgentType, &r.DepthLevel, &r.SwarmID, &r.Priority, &r.Status,
		&r.Payload.Task, &r.Payload.Context, &checkpointJSON, &dependsOn, &r.BlockedByCount,
		&createdAt, &processedAt, &r.SpawnedWorkerID,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = unixToTime(createdAt)
	r.ProcessedAt = unixToTimePtr(processedAt)
	if checkpointJSON != "" {
		var cp model.Checkpoint
		if err := fromJSON(checkpointJSON, &cp); err != nil {
			return nil, err
		}
		r.Payload.Checkpoint = &cp
	}
	if err := fromJSON(dependsOn, &r.DependsOn); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *SpawnRequestRepo) Insert(ctx context.Context, req *model.SpawnRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO spawn_requests (`+spawnColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.RequesterHandle, req.TargetAgentType, req.DepthLevel, req.SwarmID, req.Priority, req.Status,
		req.Payload.Task, req.Payload.Context, toJSON(req.Payload.Checkpoint), toJSON(req.DependsOn), req.BlockedByCount,
		timeToUnix(req.CreatedAt), ptrTimeToUnix(req.ProcessedAt), req.SpawnedWorkerID,
	)
	if err != nil {
		return fmt.Errorf("insert spawn request: %w", err)
	}
	return nil
}

func (r *SpawnRequestRepo) Update(ctx context.Context, req *model.SpawnRequest) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE spawn_requests SET status=?, blocked_by_count=?, processed_at=?, spawned_worker_id=? WHERE id=?`,
		req.Status, req.BlockedByCount, ptrTimeToUnix(req.ProcessedAt), req.SpawnedWorkerID, req.ID,
	)
	if err != nil {
		return fmt.Errorf("update spawn request: %w", err)
	}
	return nil
}

func (r *SpawnRequestRepo) Get(ctx context.Context, id string) (*model.SpawnRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+spawnColumns+` FROM spawn_requests WHERE id=?`, id)
	req, err := scanSpawnRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get spawn request: %w", err)
	}
	return req, nil
}

// ListPendingReady returns pending requests with blocked_by_count = 0,
// ordered by priority desc (critical, high, normal, low) then createdAt
// asc, at most limit rows.
func (r *SpawnRequestRepo) ListPendingReady(ctx context.Context, limit int) ([]*model.SpawnRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+spawnColumns+` FROM spawn_requests
		 WHERE status='pending' AND blocked_by_count=0
		 ORDER BY CASE priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC,
		          created_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending ready spawn requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.SpawnRequest
	for rows.Next() {
		req, err := scanSpawnRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan spawn request row: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// DecrementDependents scans every pending spawn request and, for any whose
// depends_on_json contains completedID, decrements blocked_by_count by
// one. The scan-and-update runs inside a single transaction so concurrent
// completions of distinct dependencies are each applied atomically against
// the row as it stood at transaction start; SQLite's default transaction
// isolation (serialized writers, single connection pool - see db.go) gives
// us the SERIALIZABLE-equivalent semantics the contract in §4.1 requires.
func (r *SpawnRequestRepo) DecrementDependents(ctx context.Context, completedID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decrement-dependents tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, depends_on_json, blocked_by_count FROM spawn_requests WHERE status='pending'`)
	if err != nil {
		return fmt.Errorf("scan pending spawn requests: %w", err)
	}
	type pending struct {
		id      string
		deps    []string
		blocked int
	}
	var toUpdate []pending
	for rows.Next() {
		var p pending
		var depsJSON string
		if err := rows.Scan(&p.id, &depsJSON, &p.blocked); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan pending spawn request row: %w", err)
		}
		if err := fromJSON(depsJSON, &p.deps); err != nil {
			_ = rows.Close()
			return err
		}
		for _, d := range p.deps {
			if d == completedID {
				toUpdate = append(toUpdate, p)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_ = rows.Close()

	for _, p := range toUpdate {
		newCount := p.blocked - 1
		if newCount < 0 {
			newCount = 0
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE spawn_requests SET blocked_by_count=? WHERE id=?`, newCount, p.id); err != nil {
			return fmt.Errorf("decrement blocked_by_count for %s: %w", p.id, err)
		}
	}
	return tx.Commit()
}
