package model

import "time"

// StepType identifies the behavior a WorkflowStep executes.
type StepType string

const (
	StepTask       StepType = "task"
	StepSpawn      StepType = "spawn"
	StepCheckpoint StepType = "checkpoint"
	StepGate       StepType = "gate"
	StepParallel   StepType = "parallel"
	StepScript     StepType = "script"
)

// FailurePolicy controls what happens when a step fails.
type FailurePolicy string

const (
	OnFailureFail     FailurePolicy = "fail"
	OnFailureSkip     FailurePolicy = "skip"
	OnFailureRetry    FailurePolicy = "retry"
	OnFailureContinue FailurePolicy = "continue"
)

// StepDefinition is the static description of one node in a
// WorkflowDefinition's DAG.
type StepDefinition struct {
	Key         string
	Type        StepType
	DependsOn   []string
	Config      map[string]any
	Guard       string
	OnFailure   FailurePolicy
	MaxRetries  int
	TimeoutMs   int64
}

// InputSpec describes one declared workflow input.
type InputSpec struct {
	Name     string
	Required bool
	Default  any
}

// WorkflowDefinitionBody is the `definition` field of a WorkflowDefinition.
type WorkflowDefinitionBody struct {
	Steps   []StepDefinition
	Inputs  []InputSpec
	Outputs map[string]string // output name -> dotted path into context
}

// WorkflowDefinition is a static, named graph of steps.
type WorkflowDefinition struct {
	ID         string
	Name       string
	Version    int
	Definition WorkflowDefinitionBody
	IsTemplate bool
}

// ExecutionStatus is the lifecycle status of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecPaused    ExecutionStatus = "paused"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether s can never change again.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecCancelled
}

// WorkflowExecution is a runtime instance of a WorkflowDefinition.
type WorkflowExecution struct {
	ID          string
	WorkflowID  string
	SwarmID     string
	Status      ExecutionStatus
	Context     map[string]any
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// StepStatus is the lifecycle status of a WorkflowStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepReady     StepStatus = "ready"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepBlocked   StepStatus = "blocked"
)

// IsTerminal reports whether s can never change again (absent a retry).
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepSkipped
}

// WorkflowStep is the runtime instance of one StepDefinition within a
// WorkflowExecution.
type WorkflowStep struct {
	ID             string
	ExecutionID    string
	StepKey        string
	StepType       StepType
	Status         StepStatus
	Config         map[string]any
	DependsOn      []string
	BlockedByCount int
	Output         map[string]any
	Guard          string
	OnFailure      FailurePolicy
	RetryCount     int
	MaxRetries     int
	TimeoutMs      int64
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Error          string
}

// Eligible reports whether the step may transition pending -> ready.
func (s *WorkflowStep) Eligible() bool {
	return s.Status == StepPending && s.BlockedByCount == 0
}

// TriggerType identifies what causes a WorkflowTrigger to fire.
type TriggerType string

const (
	TriggerEvent      TriggerType = "event"
	TriggerSchedule   TriggerType = "schedule"
	TriggerWebhook    TriggerType = "webhook"
	TriggerBlackboard TriggerType = "blackboard"
)

// WorkflowTrigger fires startWorkflow when its configured condition is met.
type WorkflowTrigger struct {
	ID          string
	WorkflowID  string
	TriggerType TriggerType
	Config      map[string]any
	IsEnabled   bool
	LastFiredAt *time.Time
	FireCount   int
}
