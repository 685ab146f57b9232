package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const workflowDefinitionColumns = `id, name, version, definition_json, is_template`

// WorkflowDefinitionRepo implements store.WorkflowDefinitionStore over SQLite.
type WorkflowDefinitionRepo struct {
	db *sql.DB
}

var _ store.WorkflowDefinitionStore = (*WorkflowDefinitionRepo)(nil)

func scanWorkflowDefinition(scanner interface{ Scan(...any) error }) (*model.WorkflowDefinition, error) {
	var d model.WorkflowDefinition
	var defJSON string
	var isTemplate int
	if err := scanner.Scan(&d.ID, &d.Name, &d.Version, &defJSON, &isTemplate); err != nil {
		return nil, err
	}
	d.IsTemplate = isTemplate != 0
	if err := fromJSON(defJSON, &d.Definition); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *WorkflowDefinitionRepo) Insert(ctx context.Context, d *model.WorkflowDefinition) error {
	isTemplate := 0
	if d.IsTemplate {
		isTemplate = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions (`+workflowDefinitionColumns+`) VALUES (?,?,?,?,?)`,
		d.ID, d.Name, d.Version, toJSON(d.Definition), isTemplate,
	)
	if err != nil {
		return fmt.Errorf("insert workflow definition: %w", err)
	}
	return nil
}

func (r *WorkflowDefinitionRepo) Get(ctx context.Context, id string) (*model.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowDefinitionColumns+` FROM workflow_definitions WHERE id=?`, id)
	d, err := scanWorkflowDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow definition: %w", err)
	}
	return d, nil
}

func (r *WorkflowDefinitionRepo) List(ctx context.Context) ([]*model.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+workflowDefinitionColumns+` FROM workflow_definitions`)
	if err != nil {
		return nil, fmt.Errorf("list workflow definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.WorkflowDefinition
	for rows.Next() {
		d, err := scanWorkflowDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow definition row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
