package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const workflowTriggerColumns = `id, workflow_id, trigger_type, config_json, is_enabled, last_fired_at, fire_count`

// WorkflowTriggerRepo implements store.WorkflowTriggerStore over SQLite.
type WorkflowTriggerRepo struct {
	db *sql.DB
}

var _ store.WorkflowTriggerStore = (*WorkflowTriggerRepo)(nil)

func scanWorkflowTrigger(scanner interface{ Scan(...any) error }) (*model.WorkflowTrigger, error) {
	var t model.WorkflowTrigger
	var configJSON string
	var isEnabled int
	var lastFiredAt sql.NullInt64
	if err := scanner.Scan(&t.ID, &t.WorkflowID, &t.TriggerType, &configJSON, &isEnabled, &lastFiredAt, &t.FireCount); err != nil {
		return nil, err
	}
	t.IsEnabled = isEnabled != 0
	t.LastFiredAt = unixToTimePtr(lastFiredAt)
	if err := fromJSON(configJSON, &t.Config); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *WorkflowTriggerRepo) Insert(ctx context.Context, t *model.WorkflowTrigger) error {
	enabled := 0
	if t.IsEnabled {
		enabled = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workflow_triggers (`+workflowTriggerColumns+`) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.WorkflowID, t.TriggerType, toJSON(t.Config), enabled, ptrTimeToUnix(t.LastFiredAt), t.FireCount,
	)
	if err != nil {
		return fmt.Errorf("insert workflow trigger: %w", err)
	}
	return nil
}

func (r *WorkflowTriggerRepo) Update(ctx context.Context, t *model.WorkflowTrigger) error {
	enabled := 0
	if t.IsEnabled {
		enabled = 1
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE workflow_triggers SET is_enabled=?, last_fired_at=?, fire_count=? WHERE id=?`,
		enabled, ptrTimeToUnix(t.LastFiredAt), t.FireCount, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow trigger: %w", err)
	}
	return nil
}

func (r *WorkflowTriggerRepo) ListEnabled(ctx context.Context) ([]*model.WorkflowTrigger, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workflowTriggerColumns+` FROM workflow_triggers WHERE is_enabled=1`)
	if err != nil {
		return nil, fmt.Errorf("list enabled workflow triggers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.WorkflowTrigger
	for rows.Next() {
		t, err := scanWorkflowTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow trigger row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
