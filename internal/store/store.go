// Package store defines the persistence contract the coordinator's core
// consumes: one interface per entity family plus the handful of atomic
// multi-row operations that correctness depends on. Concrete backends
// (package store/sqlite is the reference implementation) are pluggable;
// the core requires only that they provide atomic compare-and-swap or
// SERIALIZABLE-equivalent transactions for the operations below and a
// monotonic clock for ordering.
package store

import (
	"context"
	"errors"

	"github.com/fleetctl/coordinator/internal/model"
)

// ErrNotFound is returned by lookup-by-id operations that find no row.
var ErrNotFound = errors.New("store: not found")

// WorkerStore persists Worker rows.
type WorkerStore interface {
	Insert(ctx context.Context, w *model.Worker) error
	Update(ctx context.Context, w *model.Worker) error
	Get(ctx context.Context, id string) (*model.Worker, error)
	GetByHandle(ctx context.Context, teamName, handle string) (*model.Worker, error)
	ListActive(ctx context.Context, teamName string) ([]*model.Worker, error)
	ListNonTerminal(ctx context.Context) ([]*model.Worker, error)
}

// SpawnRequestStore persists SpawnRequest rows.
type SpawnRequestStore interface {
	Insert(ctx context.Context, r *model.SpawnRequest) error
	Update(ctx context.Context, r *model.SpawnRequest) error
	Get(ctx context.Context, id string) (*model.SpawnRequest, error)
	ListPendingReady(ctx context.Context, limit int) ([]*model.SpawnRequest, error)

	// DecrementDependents atomically decrements BlockedByCount on every
	// pending SpawnRequest that depends on completedID, flipping any row
	// that reaches zero to a drain-eligible state. It must be race-free
	// against concurrent calls for different completedID values.
	DecrementDependents(ctx context.Context, completedID string) error
}

// BlackboardStore persists BlackboardMessage rows.
type BlackboardStore interface {
	Insert(ctx context.Context, m *model.BlackboardMessage) error
	Get(ctx context.Context, id string) (*model.BlackboardMessage, error)
	Query(ctx context.Context, q BlackboardQuery) ([]*model.BlackboardMessage, error)

	// MarkRead idempotently adds readerHandle to the ReadBy set of every
	// message in ids.
	MarkRead(ctx context.Context, ids []string, readerHandle string) error

	// Archive idempotently sets ArchivedAt on every message in ids.
	Archive(ctx context.Context, ids []string, now int64) error

	// ArchiveOlderThan archives every non-archived message in swarmID
	// whose CreatedAt is before cutoffUnixMs.
	ArchiveOlderThan(ctx context.Context, swarmID string, cutoffUnixMs int64) (int, error)
}

// BlackboardQuery filters BlackboardStore.Query.
type BlackboardQuery struct {
	SwarmID      string
	MessageType  string
	Priority     model.Priority
	UnreadOnly   bool
	ReaderHandle string
	Limit        int
}

// MailStore persists MailMessage rows.
type MailStore interface {
	Insert(ctx context.Context, m *model.MailMessage) error
	Get(ctx context.Context, id string) (*model.MailMessage, error)
	ListUnread(ctx context.Context, handle string) ([]*model.MailMessage, error)
	MarkRead(ctx context.Context, id string, now int64) error
}

// HandoffStore persists Handoff rows.
type HandoffStore interface {
	Insert(ctx context.Context, h *model.Handoff) error
	Update(ctx context.Context, h *model.Handoff) error
	Get(ctx context.Context, id string) (*model.Handoff, error)
	ListPending(ctx context.Context, toHandle string) ([]*model.Handoff, error)
}

// CheckpointStore persists Checkpoint rows. Append-only: there is no
// Update method.
type CheckpointStore interface {
	Insert(ctx context.Context, c *model.Checkpoint) error
	GetLatest(ctx context.Context, workerHandle string) (*model.Checkpoint, error)
	List(ctx context.Context, workerHandle string, limit int) ([]*model.Checkpoint, error)

	// Cleanup deletes all but the keepN most-recent rows for workerHandle
	// and returns the number removed.
	Cleanup(ctx context.Context, workerHandle string, keepN int) (int, error)
}

// WorkflowDefinitionStore persists WorkflowDefinition rows.
type WorkflowDefinitionStore interface {
	Insert(ctx context.Context, d *model.WorkflowDefinition) error
	Get(ctx context.Context, id string) (*model.WorkflowDefinition, error)
	List(ctx context.Context) ([]*model.WorkflowDefinition, error)
}

// WorkflowExecutionStore persists WorkflowExecution rows.
type WorkflowExecutionStore interface {
	Insert(ctx context.Context, e *model.WorkflowExecution) error
	Update(ctx context.Context, e *model.WorkflowExecution) error
	Get(ctx context.Context, id string) (*model.WorkflowExecution, error)
	ListRunning(ctx context.Context) ([]*model.WorkflowExecution, error)
}

// WorkflowStepStore persists WorkflowStep rows.
type WorkflowStepStore interface {
	InsertBatch(ctx context.Context, steps []*model.WorkflowStep) error
	Update(ctx context.Context, s *model.WorkflowStep) error
	Get(ctx context.Context, id string) (*model.WorkflowStep, error)
	ListByExecution(ctx context.Context, executionID string) ([]*model.WorkflowStep, error)

	// GetReadySteps returns up to limit steps with Status == StepReady in
	// executionID, atomically flipping each returned row to StepRunning
	// (claim semantics) so two concurrent processor cycles never both
	// claim the same step.
	GetReadySteps(ctx context.Context, executionID string, limit int) ([]*model.WorkflowStep, error)

	// DecrementDependents atomically decrements BlockedByCount on every
	// step in executionID whose DependsOn contains completedKey, flipping
	// any row that reaches zero from StepPending to StepReady.
	DecrementDependents(ctx context.Context, executionID, completedKey string) error
}

// WorkflowTriggerStore persists WorkflowTrigger rows.
type WorkflowTriggerStore interface {
	Insert(ctx context.Context, t *model.WorkflowTrigger) error
	Update(ctx context.Context, t *model.WorkflowTrigger) error
	ListEnabled(ctx context.Context) ([]*model.WorkflowTrigger, error)
}

// VoteStore persists ConsensusProposal votes used by the swarm-intel
// calculators in package swarm.
type VoteStore interface {
	// UpsertVote inserts or replaces voterHandle's vote on proposalID and
	// returns the full current vote set for the proposal.
	UpsertVote(ctx context.Context, proposalID, voterHandle, voteValue string, weight float64) ([]Vote, error)
	ListVotes(ctx context.Context, proposalID string) ([]Vote, error)
}

// Vote is one voter's recorded choice on a proposal.
type Vote struct {
	VoterHandle string
	VoteValue   string
	Weight      float64
}

// Store aggregates every entity-family interface the core depends on. A
// backend implements Store as a whole; the core is written against the
// narrower per-family interfaces so tests can fake individual families.
type Store interface {
	Workers() WorkerStore
	SpawnRequests() SpawnRequestStore
	Blackboard() BlackboardStore
	Mail() MailStore
	Handoffs() HandoffStore
	Checkpoints() CheckpointStore
	WorkflowDefinitions() WorkflowDefinitionStore
	WorkflowExecutions() WorkflowExecutionStore
	WorkflowSteps() WorkflowStepStore
	WorkflowTriggers() WorkflowTriggerStore
	Votes() VoteStore
	Close() error
}
