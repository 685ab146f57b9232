package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetctl/coordinator/internal/eventbus"
	"github.com/fleetctl/coordinator/internal/logging"
	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/spawnqueue"
	"github.com/fleetctl/coordinator/internal/store"
	"github.com/fleetctl/coordinator/internal/tracing"
)

// Config tunes the processing cycle.
type Config struct {
	ProcessIntervalMs  int
	MaxConcurrentSteps int
}

// DefaultConfig returns the engine's default tuning parameters.
func DefaultConfig() Config {
	return Config{ProcessIntervalMs: 5000, MaxConcurrentSteps: 5}
}

// Engine drives WorkflowExecutions to completion: the step/execution
// lifecycle state machine, the per-step-type handlers, failure policy
// resolution, and completion detection. Its dependency-counter claim
// model mirrors spawnqueue.Controller, which this package forwards
// "spawn" steps to.
type Engine struct {
	cfg Config

	defs     store.WorkflowDefinitionStore
	execs    store.WorkflowExecutionStore
	steps    store.WorkflowStepStore
	triggers store.WorkflowTriggerStore

	spawnCtl *spawnqueue.Controller // optional: nil disables "spawn" steps
	bus      *eventbus.Bus
	trace    *tracing.Provider
	log      *logging.Logger

	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

// New constructs an Engine. trace may be nil, in which case span
// creation is a no-op.
func New(cfg Config, defs store.WorkflowDefinitionStore, execs store.WorkflowExecutionStore, steps store.WorkflowStepStore, triggers store.WorkflowTriggerStore, spawnCtl *spawnqueue.Controller, bus *eventbus.Bus, trace *tracing.Provider, log *logging.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		defs:     defs,
		execs:    execs,
		steps:    steps,
		triggers: triggers,
		spawnCtl: spawnCtl,
		bus:      bus,
		trace:    trace,
		log:      log.With(logging.CatWorkflow),
	}
}

// StartWorkflow validates inputs against the definition's declared
// InputSpecs, clones its steps into a fresh WorkflowExecution, and
// transitions it to running.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID, createdBy string, inputs map[string]any, swarmID string) (*model.WorkflowExecution, error) {
	ctx, span := tracing.Start(ctx, e.trace, "workflow.StartWorkflow")
	defer span.End()

	def, err := e.defs.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow definition: %w", err)
	}

	resolvedInputs, err := resolveInputs(def.Definition.Inputs, inputs)
	if err != nil {
		return nil, err
	}
	resolvedInputs["createdBy"] = createdBy

	if _, err := topoOrder(def.ID, def.Version, def.Definition.Steps); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	now := time.Now()
	exec := &model.WorkflowExecution{
		ID:         model.NewID(),
		WorkflowID: def.ID,
		SwarmID:    swarmID,
		Status:     model.ExecRunning,
		Context:    resolvedInputs,
		StartedAt:  &now,
	}
	if err := e.execs.Insert(ctx, exec); err != nil {
		return nil, fmt.Errorf("insert workflow execution: %w", err)
	}

	stepRows := make([]*model.WorkflowStep, 0, len(def.Definition.Steps))
	for _, sd := range def.Definition.Steps {
		status := model.StepPending
		if len(sd.DependsOn) == 0 {
			// Nothing will ever decrement a dependency-free step into
			// readiness, so it must start there directly.
			status = model.StepReady
		}
		stepRows = append(stepRows, &model.WorkflowStep{
			ID:             model.NewID(),
			ExecutionID:    exec.ID,
			StepKey:        sd.Key,
			StepType:       sd.Type,
			Status:         status,
			Config:         sd.Config,
			DependsOn:      sd.DependsOn,
			BlockedByCount: len(sd.DependsOn),
			Guard:          sd.Guard,
			OnFailure:      sd.OnFailure,
			MaxRetries:     sd.MaxRetries,
			TimeoutMs:      sd.TimeoutMs,
		})
	}
	if err := e.steps.InsertBatch(ctx, stepRows); err != nil {
		return nil, fmt.Errorf("insert workflow steps: %w", err)
	}

	e.bus.PublishWorkflowEvent(eventbus.Topic("swarm:"+swarmID), "started", exec)
	e.log.Info("workflow started", "executionId", exec.ID, "workflowId", def.ID)
	return exec, nil
}

// resolveInputs fills defaults and rejects a missing required input.
func resolveInputs(specs []model.InputSpec, provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(specs))
	for k, v := range provided {
		out[k] = v
	}
	for _, s := range specs {
		if _, ok := out[s.Name]; ok {
			continue
		}
		if s.Required {
			return nil, fmt.Errorf("missing required workflow input %q", s.Name)
		}
		out[s.Name] = s.Default
	}
	return out, nil
}

// Start runs the processing cycle every ProcessIntervalMs until ctx is
// cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	interval := time.Duration(e.cfg.ProcessIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.stopCh = make(chan struct{})
	for {
		select {
		case <-ticker.C:
			if err := e.ProcessOnce(ctx); err != nil {
				e.log.ErrorErr("workflow processing cycle failed", err)
			}
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the processing cycle.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	if e.stopCh != nil {
		close(e.stopCh)
	}
}

// ProcessOnce runs a single processing cycle across every running
// execution.
func (e *Engine) ProcessOnce(ctx context.Context) error {
	ctx, span := tracing.Start(ctx, e.trace, "workflow.ProcessOnce")
	defer span.End()

	running, err := e.execs.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running executions: %w", err)
	}
	for _, exec := range running {
		if err := e.processExecution(ctx, exec); err != nil {
			e.log.ErrorErr("process execution failed", err, "executionId", exec.ID)
		}
	}
	return nil
}

func (e *Engine) processExecution(ctx context.Context, exec *model.WorkflowExecution) error {
	ctx, span := tracing.Start(ctx, e.trace, "workflow.processExecution")
	defer span.End()

	ready, err := e.steps.GetReadySteps(ctx, exec.ID, e.cfg.MaxConcurrentSteps)
	if err != nil {
		return fmt.Errorf("get ready steps: %w", err)
	}

	for _, step := range ready {
		allSteps, err := e.steps.ListByExecution(ctx, exec.ID)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}
		if step.Guard != "" {
			ctxBag := buildContext(exec, allSteps, step.StepKey)
			if !EvalExpr(step.Guard, ctxBag) {
				if err := e.skipStep(ctx, exec, step, allSteps); err != nil {
					return err
				}
				continue
			}
		}
		if err := e.runStep(ctx, exec, step, allSteps); err != nil {
			e.log.ErrorErr("step execution failed", err, "executionId", exec.ID, "stepKey", step.StepKey)
		}
	}

	return e.detectCompletion(ctx, exec)
}

func (e *Engine) runStep(ctx context.Context, exec *model.WorkflowExecution, step *model.WorkflowStep, allSteps []*model.WorkflowStep) error {
	ctx, span := tracing.Start(ctx, e.trace, "workflow.runStep")
	defer span.End()

	now := time.Now()
	step.StartedAt = &now
	ctxBag := buildContext(exec, allSteps, step.StepKey)

	output, handlerErr := e.dispatch(ctx, exec, step, ctxBag)
	if handlerErr != nil {
		return e.handleStepFailure(ctx, exec, step, handlerErr)
	}

	step.Output = output
	step.Status = model.StepCompleted
	completed := time.Now()
	step.CompletedAt = &completed
	if err := e.steps.Update(ctx, step); err != nil {
		return fmt.Errorf("update completed step: %w", err)
	}
	if err := e.steps.DecrementDependents(ctx, exec.ID, step.StepKey); err != nil {
		return fmt.Errorf("decrement dependents: %w", err)
	}
	e.bus.PublishStepEvent(eventbus.Topic("swarm:"+exec.SwarmID), "completed", step)

	if step.StepType == model.StepGate {
		return e.applyGateBranches(ctx, exec, step, allSteps)
	}
	return nil
}

// dispatch executes the handler for step.StepType and returns its output
// bag.
func (e *Engine) dispatch(ctx context.Context, exec *model.WorkflowExecution, step *model.WorkflowStep, ctxBag map[string]any) (map[string]any, error) {
	switch step.StepType {
	case model.StepTask:
		return e.runTaskStep(step, ctxBag)
	case model.StepSpawn:
		return e.runSpawnStep(ctx, exec, step, ctxBag)
	case model.StepCheckpoint:
		return e.runCheckpointStep(step, ctxBag)
	case model.StepGate:
		return e.runGateStep(step, ctxBag)
	case model.StepScript:
		return e.runScriptStep(step, ctxBag)
	case model.StepParallel:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("unknown step type %q", step.StepType)
	}
}

func (e *Engine) runTaskStep(step *model.WorkflowStep, ctxBag map[string]any) (map[string]any, error) {
	title, _ := step.Config["title"].(string)
	title = resolveTemplate(title, ctxBag)
	return map[string]any{"workItemId": model.NewID(), "title": title}, nil
}

func (e *Engine) runSpawnStep(ctx context.Context, exec *model.WorkflowExecution, step *model.WorkflowStep, ctxBag map[string]any) (map[string]any, error) {
	task, _ := step.Config["task"].(string)
	task = resolveTemplate(task, ctxBag)
	role, _ := step.Config["targetAgentType"].(string)
	priority, _ := step.Config["priority"].(string)
	if priority == "" {
		priority = string(model.PriorityNormal)
	}

	if e.spawnCtl == nil {
		return map[string]any{"pending": true}, nil
	}

	req := &model.SpawnRequest{
		SwarmID:         exec.SwarmID,
		TargetAgentType: model.Role(role),
		Priority:        model.Priority(priority),
		Payload:         model.SpawnPayload{Task: task},
	}
	enqueued, err := e.spawnCtl.Enqueue(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("enqueue spawn step: %w", err)
	}
	return map[string]any{"spawnRequestId": enqueued.ID, "status": string(enqueued.Status)}, nil
}

func (e *Engine) runCheckpointStep(step *model.WorkflowStep, ctxBag map[string]any) (map[string]any, error) {
	goal, _ := step.Config["goal"].(string)
	return map[string]any{"goal": resolveTemplate(goal, ctxBag), "recordedAt": time.Now().Format(time.RFC3339)}, nil
}

func (e *Engine) runGateStep(step *model.WorkflowStep, ctxBag map[string]any) (map[string]any, error) {
	cond, _ := step.Config["condition"].(string)
	result := EvalExpr(cond, ctxBag)
	return map[string]any{"conditionResult": result}, nil
}

func (e *Engine) runScriptStep(step *model.WorkflowStep, ctxBag map[string]any) (map[string]any, error) {
	expr, _ := step.Config["expression"].(string)
	outputKey, hasKey := step.Config["outputKey"].(string)

	g, err := ParseGuard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse script expression: %w", err)
	}
	result := g.Eval(ctxBag)
	if hasKey && outputKey != "" {
		return map[string]any{outputKey: result}, nil
	}
	return map[string]any{"result": result}, nil
}

// applyGateBranches skips the losing branch's steps named in the gate
// step's "onTrue"/"onFalse" config lists.
func (e *Engine) applyGateBranches(ctx context.Context, exec *model.WorkflowExecution, gate *model.WorkflowStep, allSteps []*model.WorkflowStep) error {
	result, _ := gate.Output["conditionResult"].(bool)
	losingKey := "onFalse"
	if !result {
		losingKey = "onTrue"
	}
	losing, _ := gate.Config[losingKey].([]any)

	byKey := make(map[string]*model.WorkflowStep, len(allSteps))
	for _, s := range allSteps {
		byKey[s.StepKey] = s
	}
	for _, k := range losing {
		key, ok := k.(string)
		if !ok {
			continue
		}
		loser, ok := byKey[key]
		if !ok || (loser.Status != model.StepPending && loser.Status != model.StepReady) {
			continue
		}
		loser.Status = model.StepSkipped
		if err := e.steps.Update(ctx, loser); err != nil {
			return fmt.Errorf("skip gated-off step %q: %w", key, err)
		}
		if err := e.steps.DecrementDependents(ctx, exec.ID, loser.StepKey); err != nil {
			return fmt.Errorf("decrement dependents of skipped step: %w", err)
		}
	}
	return nil
}

func (e *Engine) skipStep(ctx context.Context, exec *model.WorkflowExecution, step *model.WorkflowStep, _ []*model.WorkflowStep) error {
	step.Status = model.StepSkipped
	now := time.Now()
	step.CompletedAt = &now
	if err := e.steps.Update(ctx, step); err != nil {
		return fmt.Errorf("update skipped step: %w", err)
	}
	if err := e.steps.DecrementDependents(ctx, exec.ID, step.StepKey); err != nil {
		return fmt.Errorf("decrement dependents of skipped step: %w", err)
	}
	e.bus.PublishStepEvent(eventbus.Topic("swarm:"+exec.SwarmID), "skipped", step)
	return nil
}

// handleStepFailure applies the step's failure policy: fail aborts the
// execution, skip treats the step as skipped (unblocking dependents),
// retry re-queues it as ready up to MaxRetries, continue leaves the
// step failed without decrementing its dependents — they stay blocked
// and the execution never completes.
func (e *Engine) handleStepFailure(ctx context.Context, exec *model.WorkflowExecution, step *model.WorkflowStep, cause error) error {
	now := time.Now()
	step.Error = cause.Error()
	step.CompletedAt = &now

	policy := step.OnFailure
	if policy == "" {
		policy = model.OnFailureFail
	}

	switch policy {
	case model.OnFailureRetry:
		if step.RetryCount < step.MaxRetries {
			step.RetryCount++
			step.Status = model.StepReady
			step.CompletedAt = nil
			if err := e.steps.Update(ctx, step); err != nil {
				return fmt.Errorf("update retrying step: %w", err)
			}
			e.log.Warn("step failed, retrying", "executionId", exec.ID, "stepKey", step.StepKey, "attempt", step.RetryCount)
			return nil
		}
		fallthrough
	case model.OnFailureFail:
		step.Status = model.StepFailed
		if err := e.steps.Update(ctx, step); err != nil {
			return fmt.Errorf("update failed step: %w", err)
		}
		exec.Status = model.ExecFailed
		exec.Error = fmt.Sprintf("step %q failed: %v", step.StepKey, cause)
		exec.CompletedAt = &now
		if err := e.execs.Update(ctx, exec); err != nil {
			return fmt.Errorf("fail execution: %w", err)
		}
		e.bus.PublishWorkflowEvent(eventbus.Topic("swarm:"+exec.SwarmID), "failed", exec)
		return nil

	case model.OnFailureSkip:
		step.Status = model.StepSkipped
		if err := e.steps.Update(ctx, step); err != nil {
			return fmt.Errorf("update skipped-on-failure step: %w", err)
		}
		return e.steps.DecrementDependents(ctx, exec.ID, step.StepKey)

	case model.OnFailureContinue:
		step.Status = model.StepFailed
		if err := e.steps.Update(ctx, step); err != nil {
			return fmt.Errorf("update continued step: %w", err)
		}
		return nil
	}
	return nil
}

// detectCompletion transitions exec to completed once every step has
// reached a terminal status (completed or skipped) or is a step left
// failed by the continue policy — those steps never unblock their
// dependents, so any pending step downstream of one keeps the
// execution running indefinitely rather than forcing it to a verdict.
func (e *Engine) detectCompletion(ctx context.Context, exec *model.WorkflowExecution) error {
	fresh, err := e.execs.Get(ctx, exec.ID)
	if err != nil {
		return fmt.Errorf("reload execution: %w", err)
	}
	if fresh.Status.IsTerminal() {
		return nil
	}

	steps, err := e.steps.ListByExecution(ctx, exec.ID)
	if err != nil {
		return fmt.Errorf("list steps for completion check: %w", err)
	}
	for _, s := range steps {
		if s.Status.IsTerminal() {
			continue
		}
		if s.Status == model.StepFailed && s.OnFailure == model.OnFailureContinue {
			// left failed on purpose; its dependents stay blocked forever
			// rather than being treated as in flight.
			continue
		}
		return nil // at least one step is still in flight
	}

	def, err := e.defs.Get(ctx, exec.WorkflowID)
	if err != nil {
		return fmt.Errorf("get workflow definition: %w", err)
	}
	outputs := gatherOutputs(def.Definition.Outputs, buildContext(exec, steps, ""))

	now := time.Now()
	fresh.Status = model.ExecCompleted
	fresh.CompletedAt = &now
	for k, v := range outputs {
		if fresh.Context == nil {
			fresh.Context = map[string]any{}
		}
		fresh.Context[k] = v
	}
	if err := e.execs.Update(ctx, fresh); err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	e.bus.PublishWorkflowEvent(eventbus.Topic("swarm:"+exec.SwarmID), "completed", fresh)
	e.log.Info("workflow completed", "executionId", exec.ID)
	return nil
}

func gatherOutputs(outputMap map[string]string, ctxBag map[string]any) map[string]any {
	out := make(map[string]any, len(outputMap))
	for name, path := range outputMap {
		if v, ok := resolvePath(ctxBag, path); ok {
			out[name] = v
		}
	}
	return out
}

// Pause transitions a running execution to paused; the processing cycle
// skips executions not in ExecRunning.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	return e.transitionExecution(ctx, executionID, model.ExecRunning, model.ExecPaused)
}

// Resume transitions a paused execution back to running.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	return e.transitionExecution(ctx, executionID, model.ExecPaused, model.ExecRunning)
}

// Cancel transitions a non-terminal execution to cancelled.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	exec, err := e.execs.Get(ctx, executionID)
	if err != nil {
		return fmt.Errorf("get execution: %w", err)
	}
	if exec.Status.IsTerminal() {
		return fmt.Errorf("execution %q is already terminal", executionID)
	}
	exec.Status = model.ExecCancelled
	now := time.Now()
	exec.CompletedAt = &now
	if err := e.execs.Update(ctx, exec); err != nil {
		return fmt.Errorf("cancel execution: %w", err)
	}
	e.bus.PublishWorkflowEvent(eventbus.Topic("swarm:"+exec.SwarmID), "cancelled", exec)
	return nil
}

func (e *Engine) transitionExecution(ctx context.Context, executionID string, from, to model.ExecutionStatus) error {
	exec, err := e.execs.Get(ctx, executionID)
	if err != nil {
		return fmt.Errorf("get execution: %w", err)
	}
	if exec.Status != from {
		return fmt.Errorf("execution %q is %q, expected %q", executionID, exec.Status, from)
	}
	exec.Status = to
	if err := e.execs.Update(ctx, exec); err != nil {
		return fmt.Errorf("transition execution: %w", err)
	}
	e.bus.PublishWorkflowEvent(eventbus.Topic("swarm:"+exec.SwarmID), string(to), exec)
	return nil
}
