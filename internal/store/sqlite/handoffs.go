package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const handoffColumns = `id, from_handle, to_handle, context_json, checkpoint_json, status, outcome,
	accepted_at, created_at`

// HandoffRepo implements store.HandoffStore over SQLite.
type HandoffRepo struct {
	db *sql.DB
}

var _ store.HandoffStore = (*HandoffRepo)(nil)

func scanHandoff(scanner interface{ Scan(...any) error }) (*model.Handoff, error) {
	var h model.Handoff
	var contextJSON, checkpointJSON string
	var acceptedAt, createdAt sql.NullInt64
	err := scanner.Scan(&h.ID, &h.From, &h.To, &contextJSON, &checkpointJSON, &h.Status, &h.Outcome,
		&acceptedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	h.CreatedAt = unixToTime(createdAt)
	h.AcceptedAt = unixToTimePtr(acceptedAt)
	if err := fromJSON(contextJSON, &h.Context); err != nil {
		return nil, err
	}
	if checkpointJSON != "" {
		var cp model.Checkpoint
		if err := fromJSON(checkpointJSON, &cp); err != nil {
			return nil, err
		}
		h.Checkpoint = &cp
	}
	return &h, nil
}

func (r *HandoffRepo) Insert(ctx context.Context, h *model.Handoff) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO handoffs (`+handoffColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		h.ID, h.From, h.To, toJSON(h.Context), toJSON(h.Checkpoint), h.Status, h.Outcome,
		ptrTimeToUnix(h.AcceptedAt), timeToUnix(h.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert handoff: %w", err)
	}
	return nil
}

func (r *HandoffRepo) Update(ctx context.Context, h *model.Handoff) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE handoffs SET status=?, outcome=?, accepted_at=? WHERE id=?`,
		h.Status, h.Outcome, ptrTimeToUnix(h.AcceptedAt), h.ID,
	)
	if err != nil {
		return fmt.Errorf("update handoff: %w", err)
	}
	return nil
}

func (r *HandoffRepo) Get(ctx context.Context, id string) (*model.Handoff, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+handoffColumns+` FROM handoffs WHERE id=?`, id)
	h, err := scanHandoff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get handoff: %w", err)
	}
	return h, nil
}

func (r *HandoffRepo) ListPending(ctx context.Context, toHandle string) ([]*model.Handoff, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+handoffColumns+` FROM handoffs WHERE to_handle=? AND status='pending' ORDER BY created_at ASC`,
		toHandle)
	if err != nil {
		return nil, fmt.Errorf("list pending handoffs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan handoff row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
