// Package model holds the entity types shared across the coordinator's
// core subsystems: workers, spawn requests, blackboard and mail messages,
// handoffs, checkpoints, and workflow definitions/executions.
package model

import "time"

// Role identifies the kind of work a Worker performs.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleWorker      Role = "worker"
	RoleMonitor     Role = "monitor"
	RoleNotifier    Role = "notifier"
	RoleMerger      Role = "merger"
)

// WorkerStatus is the persisted lifecycle status of a Worker.
type WorkerStatus string

const (
	WorkerPending   WorkerStatus = "pending"
	WorkerReady     WorkerStatus = "ready"
	WorkerBusy      WorkerStatus = "busy"
	WorkerError     WorkerStatus = "error"
	WorkerDismissed WorkerStatus = "dismissed"
)

// Health is the derived, in-memory health classification of a Worker,
// computed from time since its last heartbeat. It is never persisted.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Worker is a managed subprocess.
type Worker struct {
	ID             string
	Handle         string
	TeamName       string
	Role           Role
	Status         WorkerStatus
	SwarmID        string
	DepthLevel     int
	SessionID      string
	RestartCount   int
	LastHeartbeat  time.Time
	InitialPrompt  string
	WorktreePath   string
	WorktreeBranch string
	CreatedAt      time.Time
	DismissedAt    *time.Time
}

// Health classifies w using the supplied thresholds and the current time.
// now is passed explicitly so the health checker's decisions are
// reproducible in tests.
func (w *Worker) Health(now time.Time, healthyThreshold, unhealthyThreshold time.Duration) Health {
	if w.LastHeartbeat.IsZero() {
		return HealthHealthy
	}
	delta := now.Sub(w.LastHeartbeat)
	switch {
	case delta < healthyThreshold:
		return HealthHealthy
	case delta < unhealthyThreshold:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// IsTerminal reports whether the worker's status can never change again.
func (w *Worker) IsTerminal() bool {
	return w.Status == WorkerDismissed
}

// OutputEventType identifies the kind of line emitted by a worker process.
type OutputEventType string

const (
	EventSystem    OutputEventType = "system"
	EventAssistant OutputEventType = "assistant"
	EventUser      OutputEventType = "user"
	EventResult    OutputEventType = "result"
	EventToolUse   OutputEventType = "tool_use"
	EventError     OutputEventType = "error"
)

// ErrorReason classifies a worker error event for retry/backoff decisions.
type ErrorReason string

const (
	ErrReasonUnknown         ErrorReason = ""
	ErrReasonContextExceeded ErrorReason = "context_exceeded"
	ErrReasonRateLimited     ErrorReason = "rate_limited"
	ErrReasonInvalidRequest  ErrorReason = "invalid_request"
)

// OutputEvent is one parsed JSON line of a worker's stdout stream.
type OutputEvent struct {
	Type          OutputEventType
	SubType       string
	SessionID     string
	Message       string
	Tool          string
	DurationMs    int64
	TotalCostUSD  float64
	IsErrorResult bool
	Result        string
	ErrorMessage  string
	ErrorReason   ErrorReason
	Raw           []byte
	Timestamp     time.Time
}

// IsInit reports whether this is the system/init event carrying session info.
func (e OutputEvent) IsInit() bool {
	return e.Type == EventSystem && e.SubType == "init"
}

// IsError reports whether this event represents a failure.
func (e OutputEvent) IsError() bool {
	return e.Type == EventError || e.IsErrorResult
}
