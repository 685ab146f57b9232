// Package coordinator wires the fleet coordinator's subsystems together
// by explicit constructor injection — config, storage, mailbox,
// blackboard, checkpoints, the worker supervisor, the spawn controller,
// the workflow engine, and the event bus — with no package-level
// globals.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetctl/coordinator/internal/blackboard"
	"github.com/fleetctl/coordinator/internal/checkpoint"
	"github.com/fleetctl/coordinator/internal/config"
	"github.com/fleetctl/coordinator/internal/eventbus"
	"github.com/fleetctl/coordinator/internal/logging"
	"github.com/fleetctl/coordinator/internal/mailbox"
	"github.com/fleetctl/coordinator/internal/spawnqueue"
	"github.com/fleetctl/coordinator/internal/store"
	"github.com/fleetctl/coordinator/internal/tracing"
	"github.com/fleetctl/coordinator/internal/worker"
	"github.com/fleetctl/coordinator/internal/workflow"
)

// Coordinator composes every subsystem and owns their background loops.
type Coordinator struct {
	cfg   config.Config
	store store.Store
	log   *logging.Logger
	trace *tracing.Provider

	Mailbox    *mailbox.Mailbox
	Blackboard *blackboard.Blackboard
	Checkpoint *checkpoint.Checkpoints
	Bus        *eventbus.Bus
	Workers    *worker.Supervisor
	SpawnQueue *spawnqueue.Controller
	Workflow   *workflow.Engine

	cancel context.CancelFunc
}

// New constructs a Coordinator from a validated config and an opened
// store. The caller owns the store's lifetime and must Close it after
// Shutdown returns.
func New(cfg config.Config, st store.Store, log *logging.Logger) (*Coordinator, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	traceProvider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	bus := eventbus.New()
	mb := mailbox.New(st.Mail(), st.Handoffs())
	bb := blackboard.New(st.Blackboard())
	cps := checkpoint.New(st.Checkpoints())

	workerCfg := worker.Config{
		MaxWorkers:          cfg.Worker.MaxWorkers,
		HealthCheckInterval: time.Duration(cfg.Worker.HealthCheckIntervalMs) * time.Millisecond,
		HealthyThreshold:    time.Duration(cfg.Worker.HealthyThresholdMs) * time.Millisecond,
		UnhealthyThreshold:  time.Duration(cfg.Worker.UnhealthyThresholdMs) * time.Millisecond,
		MaxRestartAttempts:  cfg.Worker.MaxRestartAttempts,
		MaxOutputLines:      cfg.Worker.MaxOutputLines,
		DismissGrace:        time.Duration(cfg.Worker.DismissGraceMs) * time.Millisecond,
		AutoRestart:         true,
		Executable:          cfg.Worker.Executable,
		BaseArgs:            cfg.Worker.BaseArgs,
		CoordinatorAddr:     cfg.ListenAddr,
	}
	supervisor := worker.New(workerCfg, st.Workers(), mb, cps, bus, traceProvider, log)

	spawnCfg := spawnqueue.Config{
		SoftLimit:         cfg.SpawnQueue.SoftLimit,
		HardLimit:         cfg.SpawnQueue.HardLimit,
		MaxDepth:          cfg.SpawnQueue.MaxDepth,
		ProcessIntervalMs: cfg.SpawnQueue.ProcessIntervalMs,
	}
	spawnCtl := spawnqueue.New(spawnCfg, st.SpawnRequests(), supervisor, traceProvider, log)

	engineCfg := workflow.Config{
		ProcessIntervalMs:  cfg.Workflow.ProcessIntervalMs,
		MaxConcurrentSteps: cfg.Workflow.MaxConcurrentSteps,
	}
	engine := workflow.New(engineCfg, st.WorkflowDefinitions(), st.WorkflowExecutions(), st.WorkflowSteps(), st.WorkflowTriggers(), spawnCtl, bus, traceProvider, log)

	return &Coordinator{
		cfg:        cfg,
		store:      st,
		log:        log.With(logging.CatConfig),
		trace:      traceProvider,
		Mailbox:    mb,
		Blackboard: bb,
		Checkpoint: cps,
		Bus:        bus,
		Workers:    supervisor,
		SpawnQueue: spawnCtl,
		Workflow:   engine,
	}, nil
}

// Start recovers any worker state left over from a prior process
// instance and launches every background loop (health checker, spawn
// drainer, workflow processor, trigger poller). It returns once all
// loops are running; they continue until Shutdown is called.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Workers.RecoverOnStartup(ctx); err != nil {
		return fmt.Errorf("recover workers on startup: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.Workers.StartHealthChecker(runCtx)
	go c.SpawnQueue.Start(runCtx)
	go c.Workflow.Start(runCtx)
	go c.pollTriggers(runCtx)

	c.log.Info("coordinator started", "listenAddr", c.cfg.ListenAddr)
	return nil
}

// pollTriggers periodically checks blackboard triggers at the workflow
// engine's processing cadence; there is no separate tuning knob for
// trigger polling, so it reuses the workflow processing interval.
func (c *Coordinator) pollTriggers(ctx context.Context) {
	interval := time.Duration(c.cfg.Workflow.ProcessIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tickCtx, span := tracing.Start(ctx, c.trace, "coordinator.pollTriggers")
			if err := c.Workflow.PollBlackboardTriggers(tickCtx, c.store.Blackboard()); err != nil {
				c.log.ErrorErr("trigger poll failed", err)
			}
			span.End()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops every background loop, dismisses all tracked workers,
// and flushes the tracing provider. It does not close the store; the
// caller retains ownership of that.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.SpawnQueue.Stop()
	c.Workflow.Stop()
	c.Workers.DismissAll(ctx)
	c.Bus.Close()
	return c.trace.Shutdown(ctx)
}
