// Package checkpoint implements the append-only checkpoint store's
// business logic: create, fetch-latest, list, cleanup, and the fixed
// Markdown rendering the worker supervisor prepends when resuming a
// worker from its latest checkpoint.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

// Checkpoints is the append-only checkpoint store's business logic layer.
type Checkpoints struct {
	store store.CheckpointStore
}

// New constructs a Checkpoints over the given persistence interface.
func New(s store.CheckpointStore) *Checkpoints {
	return &Checkpoints{store: s}
}

// Create persists a new checkpoint record for workerHandle.
func (c *Checkpoints) Create(ctx context.Context, workerHandle, goal, now, test string, done, blockers, questions, next []string) (*model.Checkpoint, error) {
	rec := &model.Checkpoint{
		ID:              model.NewID(),
		WorkerHandle:    workerHandle,
		Goal:            goal,
		Now:             now,
		Test:            test,
		DoneThisSession: done,
		Blockers:        blockers,
		Questions:       questions,
		Next:            next,
		CreatedAt:       time.Now(),
	}
	if err := c.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}
	return rec, nil
}

// GetLatest returns the most recent checkpoint for workerHandle, or
// store.ErrNotFound if none exists.
func (c *Checkpoints) GetLatest(ctx context.Context, workerHandle string) (*model.Checkpoint, error) {
	rec, err := c.store.GetLatest(ctx, workerHandle)
	if err != nil {
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}
	return rec, nil
}

// List returns up to limit checkpoints for workerHandle in reverse
// chronological order.
func (c *Checkpoints) List(ctx context.Context, workerHandle string, limit int) ([]*model.Checkpoint, error) {
	recs, err := c.store.List(ctx, workerHandle, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return recs, nil
}

// Cleanup deletes all but the keepN most-recent rows for workerHandle and
// returns the number removed.
func (c *Checkpoints) Cleanup(ctx context.Context, workerHandle string, keepN int) (int, error) {
	n, err := c.store.Cleanup(ctx, workerHandle, keepN)
	if err != nil {
		return 0, fmt.Errorf("cleanup checkpoints: %w", err)
	}
	return n, nil
}

// FormatForResume renders rec in the fixed Markdown shape the supervisor
// prepends when respawning a worker.
func FormatForResume(rec *model.Checkpoint) string {
	var b strings.Builder
	b.WriteString("## Checkpoint Resume\n")
	fmt.Fprintf(&b, "Goal: %s\n", rec.Goal)
	fmt.Fprintf(&b, "Now: %s\n", rec.Now)
	fmt.Fprintf(&b, "### Completed: %s\n", bulletListOrNone(rec.DoneThisSession))
	fmt.Fprintf(&b, "### Remaining: %s\n", bulletListOrNone(rec.Next))
	return b.String()
}

func bulletListOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = "- " + it
	}
	return strings.Join(parts, "\n")
}
