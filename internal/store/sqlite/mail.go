package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

const mailColumns = `id, from_handle, to_handle, subject, body, read_at, created_at`

// MailRepo implements store.MailStore over SQLite.
type MailRepo struct {
	db *sql.DB
}

var _ store.MailStore = (*MailRepo)(nil)

func scanMail(scanner interface{ Scan(...any) error }) (*model.MailMessage, error) {
	var m model.MailMessage
	var readAt, createdAt sql.NullInt64
	err := scanner.Scan(&m.ID, &m.From, &m.To, &m.Subject, &m.Body, &readAt, &createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = unixToTime(createdAt)
	m.ReadAt = unixToTimePtr(readAt)
	return &m, nil
}

func (r *MailRepo) Insert(ctx context.Context, m *model.MailMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mail_messages (`+mailColumns+`) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.From, m.To, m.Subject, m.Body, ptrTimeToUnix(m.ReadAt), timeToUnix(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert mail message: %w", err)
	}
	return nil
}

func (r *MailRepo) Get(ctx context.Context, id string) (*model.MailMessage, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mailColumns+` FROM mail_messages WHERE id=?`, id)
	m, err := scanMail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mail message: %w", err)
	}
	return m, nil
}

func (r *MailRepo) ListUnread(ctx context.Context, handle string) ([]*model.MailMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mailColumns+` FROM mail_messages WHERE to_handle=? AND read_at IS NULL ORDER BY created_at ASC`,
		handle)
	if err != nil {
		return nil, fmt.Errorf("list unread mail: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.MailMessage
	for rows.Next() {
		m, err := scanMail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mail row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MailRepo) MarkRead(ctx context.Context, id string, now int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE mail_messages SET read_at=? WHERE id=? AND read_at IS NULL`, now, id)
	if err != nil {
		return fmt.Errorf("mark mail read: %w", err)
	}
	return nil
}
