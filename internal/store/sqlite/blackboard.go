package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const blackboardColumns = `id, swarm_id, sender_handle, message_type, target_handle, priority,
	payload_json, read_by_json, created_at, archived_at`

// BlackboardRepo implements store.BlackboardStore over SQLite.
type BlackboardRepo struct {
	db *sql.DB
}

var _ store.BlackboardStore = (*BlackboardRepo)(nil)

func scanBlackboardMessage(scanner interface{ Scan(...any) error }) (*model.BlackboardMessage, error) {
	var m model.BlackboardMessage
	var payloadJSON, readByJSON string
	var createdAt, archivedAt sql.NullInt64
	err := scanner.Scan(
		&m.ID, &m.SwarmID, &m.SenderHandle, &m.MessageType, &m.TargetHandle, &m.Priority,
		&payloadJSON, &readByJSON, &createdAt, &archivedAt,
	)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = unixToTime(createdAt)
	m.ArchivedAt = unixToTimePtr(archivedAt)
	if err := fromJSON(payloadJSON, &m.Payload); err != nil {
		return nil, err
	}
	var readers []string
	if err := fromJSON(readByJSON, &readers); err != nil {
		return nil, err
	}
	m.ReadBy = make(map[string]struct{}, len(readers))
	for _, h := range readers {
		m.ReadBy[h] = struct{}{}
	}
	return &m, nil
}

func (r *BlackboardRepo) Insert(ctx context.Context, m *model.BlackboardMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blackboard_messages (`+blackboardColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.SwarmID, m.SenderHandle, m.MessageType, m.TargetHandle, m.Priority,
		toJSON(m.Payload), toJSON(readersOf(m)), timeToUnix(m.CreatedAt), ptrTimeToUnix(m.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("insert blackboard message: %w", err)
	}
	return nil
}

func readersOf(m *model.BlackboardMessage) []string {
	out := make([]string, 0, len(m.ReadBy))
	for h := range m.ReadBy {
		out = append(out, h)
	}
	return out
}

func (r *BlackboardRepo) Get(ctx context.Context, id string) (*model.BlackboardMessage, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+blackboardColumns+` FROM blackboard_messages WHERE id=?`, id)
	m, err := scanBlackboardMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blackboard message: %w", err)
	}
	return m, nil
}

func (r *BlackboardRepo) Query(ctx context.Context, q store.BlackboardQuery) ([]*model.BlackboardMessage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + blackboardColumns + ` FROM blackboard_messages WHERE swarm_id=? AND archived_at IS NULL`)
	args := []any{q.SwarmID}

	if q.MessageType != "" {
		b.WriteString(` AND message_type=?`)
		args = append(args, q.MessageType)
	}
	if q.Priority != "" {
		b.WriteString(` AND priority=?`)
		args = append(args, q.Priority)
	}
	b.WriteString(` ORDER BY created_at ASC`)

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query blackboard messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.BlackboardMessage
	for rows.Next() {
		m, err := scanBlackboardMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan blackboard message row: %w", err)
		}
		if q.UnreadOnly && m.HasRead(q.ReaderHandle) {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func (r *BlackboardRepo) MarkRead(ctx context.Context, ids []string, readerHandle string) error {
	for _, id := range ids {
		m, err := r.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if m.HasRead(readerHandle) {
			continue
		}
		m.ReadBy[readerHandle] = struct{}{}
		if _, err := r.db.ExecContext(ctx,
			`UPDATE blackboard_messages SET read_by_json=? WHERE id=?`, toJSON(readersOf(m)), id); err != nil {
			return fmt.Errorf("mark blackboard message read: %w", err)
		}
	}
	return nil
}

func (r *BlackboardRepo) Archive(ctx context.Context, ids []string, now int64) error {
	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE blackboard_messages SET archived_at=? WHERE id=? AND archived_at IS NULL`, now, id); err != nil {
			return fmt.Errorf("archive blackboard message: %w", err)
		}
	}
	return nil
}

func (r *BlackboardRepo) ArchiveOlderThan(ctx context.Context, swarmID string, cutoffUnixMs int64) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE blackboard_messages SET archived_at=? WHERE swarm_id=? AND archived_at IS NULL AND created_at < ?`,
		cutoffUnixMs, swarmID, cutoffUnixMs)
	if err != nil {
		return 0, fmt.Errorf("archive old blackboard messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
