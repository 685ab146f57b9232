// Package mailbox implements point-to-point mail and structured handoffs
// between worker handles, the accumulated-context injection the worker
// supervisor prepends to a spawn's initial prompt, grounded on the
// teacher's fabric broker's Markdown-block rendering idiom.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

// Mailbox provides point-to-point messaging and handoffs.
type Mailbox struct {
	mail     store.MailStore
	handoffs store.HandoffStore
}

// New constructs a Mailbox over the given persistence interfaces.
func New(mail store.MailStore, handoffs store.HandoffStore) *Mailbox {
	return &Mailbox{mail: mail, handoffs: handoffs}
}

// Send persists a mail message from -> to and always succeeds absent a
// store failure; there is no delivery acknowledgement.
func (m *Mailbox) Send(ctx context.Context, from, to, body, subject string) (*model.MailMessage, error) {
	msg := &model.MailMessage{
		ID:        model.NewID(),
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := m.mail.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("send mail: %w", err)
	}
	return msg, nil
}

// GetUnread returns handle's unread mail ordered by createdAt ascending.
func (m *Mailbox) GetUnread(ctx context.Context, handle string) ([]*model.MailMessage, error) {
	msgs, err := m.mail.ListUnread(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("list unread mail: %w", err)
	}
	return msgs, nil
}

// MarkRead marks a mail message read. Idempotent: a second call is a
// no-op.
func (m *Mailbox) MarkRead(ctx context.Context, mailID string) error {
	if err := m.mail.MarkRead(ctx, mailID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("mark mail read: %w", err)
	}
	return nil
}

// CreateHandoff persists a new pending handoff from -> to.
func (m *Mailbox) CreateHandoff(ctx context.Context, from, to string, handoffCtx map[string]any, checkpoint *model.Checkpoint) (*model.Handoff, error) {
	h := &model.Handoff{
		ID:         model.NewID(),
		From:       from,
		To:         to,
		Context:    handoffCtx,
		Checkpoint: checkpoint,
		Status:     model.HandoffPending,
		CreatedAt:  time.Now(),
	}
	if err := m.handoffs.Insert(ctx, h); err != nil {
		return nil, fmt.Errorf("create handoff: %w", err)
	}
	return h, nil
}

// AcceptHandoff stamps acceptedAt and transitions the handoff to accepted.
// Acceptance is a one-way transition.
func (m *Mailbox) AcceptHandoff(ctx context.Context, id string) (*model.Handoff, error) {
	return m.resolveHandoff(ctx, id, model.HandoffAccepted, "")
}

// RejectHandoff transitions the handoff to rejected with an optional
// outcome note.
func (m *Mailbox) RejectHandoff(ctx context.Context, id, outcome string) (*model.Handoff, error) {
	return m.resolveHandoff(ctx, id, model.HandoffRejected, outcome)
}

func (m *Mailbox) resolveHandoff(ctx context.Context, id string, status model.HandoffStatus, outcome string) (*model.Handoff, error) {
	h, err := m.handoffs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get handoff: %w", err)
	}
	if h.Status != model.HandoffPending {
		return h, nil
	}
	h.Status = status
	h.Outcome = outcome
	if status == model.HandoffAccepted {
		now := time.Now()
		h.AcceptedAt = &now
	}
	if err := m.handoffs.Update(ctx, h); err != nil {
		return nil, fmt.Errorf("update handoff: %w", err)
	}
	return h, nil
}

// ListPendingHandoffs returns the pending handoffs addressed to handle.
func (m *Mailbox) ListPendingHandoffs(ctx context.Context, handle string) ([]*model.Handoff, error) {
	hs, err := m.handoffs.ListPending(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("list pending handoffs: %w", err)
	}
	return hs, nil
}

// FormatForInjection renders handle's unread mail and pending handoffs as
// a Markdown block suitable for prepending to a (re)spawned worker's
// initial prompt. Empty input renders an empty string.
func (m *Mailbox) FormatForInjection(ctx context.Context, handle string) (string, error) {
	unread, err := m.GetUnread(ctx, handle)
	if err != nil {
		return "", err
	}
	pending, err := m.ListPendingHandoffs(ctx, handle)
	if err != nil {
		return "", err
	}
	if len(unread) == 0 && len(pending) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Pending Messages (%d)\n", len(unread))
	for _, msg := range unread {
		fmt.Fprintf(&b, "\n### From %s\n", msg.From)
		if msg.Subject != "" {
			fmt.Fprintf(&b, "**Subject:** %s\n\n", msg.Subject)
		}
		b.WriteString(msg.Body)
		b.WriteString("\n")
	}

	if len(pending) > 0 {
		fmt.Fprintf(&b, "\n## Pending Handoffs (%d)\n", len(pending))
		for _, h := range pending {
			fmt.Fprintf(&b, "\n### From %s\n", h.From)
			ctxJSON, _ := json.MarshalIndent(h.Context, "", "  ")
			b.WriteString("```json\n")
			b.Write(ctxJSON)
			b.WriteString("\n```\n")
		}
	}

	return b.String(), nil
}
