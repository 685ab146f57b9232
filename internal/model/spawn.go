package model

import "time"

// Priority orders SpawnRequest and BlackboardMessage processing.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// weight returns a sortable numeric rank, higher first.
func (p Priority) weight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Less reports whether p should be drained after other. Combine with a
// createdAt tiebreak by the caller to get priority-desc, createdAt-asc
// drain ordering.
func (p Priority) Less(other Priority) bool {
	return p.weight() < other.weight()
}

// SpawnStatus is the lifecycle status of a SpawnRequest.
type SpawnStatus string

const (
	SpawnPending  SpawnStatus = "pending"
	SpawnApproved SpawnStatus = "approved"
	SpawnRejected SpawnStatus = "rejected"
	SpawnSpawned  SpawnStatus = "spawned"
)

// IsTerminal reports whether s can never change again.
func (s SpawnStatus) IsTerminal() bool {
	return s == SpawnRejected || s == SpawnSpawned
}

// SpawnPayload carries the task and optional continuation context for a
// queued spawn.
type SpawnPayload struct {
	Task       string
	Context    string
	Checkpoint *Checkpoint
}

// SpawnRequest is a queued request to spawn a worker.
type SpawnRequest struct {
	ID               string
	RequesterHandle  string
	TargetAgentType  Role
	DepthLevel       int
	SwarmID          string
	Priority         Priority
	Status           SpawnStatus
	Payload          SpawnPayload
	DependsOn        []string
	BlockedByCount   int
	CreatedAt        time.Time
	ProcessedAt      *time.Time
	SpawnedWorkerID  string
}
