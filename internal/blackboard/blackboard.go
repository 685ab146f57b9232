// Package blackboard implements the swarm-scoped typed message log:
// post, read with filters, mark-read, and archival.
package blackboard

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

// defaultLimit and hardLimit bound Read's result size.
const (
	defaultLimit = 50
	hardLimit    = 1000
)

// Blackboard is the swarm-scoped message log.
type Blackboard struct {
	store store.BlackboardStore
}

// New constructs a Blackboard over the given persistence interface.
func New(s store.BlackboardStore) *Blackboard {
	return &Blackboard{store: s}
}

// Post appends a new immutable message to swarmID's log.
func (b *Blackboard) Post(ctx context.Context, swarmID, sender, messageType string, payload map[string]any, target string, priority model.Priority) (*model.BlackboardMessage, error) {
	msg := &model.BlackboardMessage{
		ID:           model.NewID(),
		SwarmID:      swarmID,
		SenderHandle: sender,
		MessageType:  messageType,
		TargetHandle: target,
		Priority:     priority,
		Payload:      payload,
		ReadBy:       map[string]struct{}{},
		CreatedAt:    time.Now(),
	}
	if err := b.store.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("post blackboard message: %w", err)
	}
	return msg, nil
}

// ReadFilter mirrors store.BlackboardQuery at the business-logic layer,
// applying the default/hard-ceiling limit clamp.
type ReadFilter struct {
	MessageType  string
	Priority     model.Priority
	UnreadOnly   bool
	ReaderHandle string
	Limit        int
}

// Read returns non-archived messages in swarmID matching filter.
func (b *Blackboard) Read(ctx context.Context, swarmID string, filter ReadFilter) ([]*model.BlackboardMessage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > hardLimit {
		limit = hardLimit
	}
	q := store.BlackboardQuery{
		SwarmID:      swarmID,
		MessageType:  filter.MessageType,
		Priority:     filter.Priority,
		UnreadOnly:   filter.UnreadOnly,
		ReaderHandle: filter.ReaderHandle,
		Limit:        limit,
	}
	msgs, err := b.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read blackboard: %w", err)
	}
	return msgs, nil
}

// MarkRead idempotently adds readerHandle to the readBy set of each id.
func (b *Blackboard) MarkRead(ctx context.Context, ids []string, readerHandle string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.store.MarkRead(ctx, ids, readerHandle); err != nil {
		return fmt.Errorf("mark blackboard messages read: %w", err)
	}
	return nil
}

// Archive transitions the given messages to archived.
func (b *Blackboard) Archive(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.store.Archive(ctx, ids, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("archive blackboard messages: %w", err)
	}
	return nil
}

// ArchiveOld archives every non-archived message in swarmID older than
// maxAge.
func (b *Blackboard) ArchiveOld(ctx context.Context, swarmID string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	n, err := b.store.ArchiveOlderThan(ctx, swarmID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive old blackboard messages: %w", err)
	}
	return n, nil
}
