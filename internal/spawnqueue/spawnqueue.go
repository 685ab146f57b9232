// Package spawnqueue implements the spawn controller: admission control
// and dependency-ordered draining, the single gate for all spawn
// intents.
package spawnqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetctl/coordinator/internal/logging"
	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
	"github.com/fleetctl/coordinator/internal/tracing"
)

// ErrHardLimitReached names the hard-limit admission failure. Enqueue does
// not return it: a request rejected by admission control comes back with
// status rejected and a nil error.
var ErrHardLimitReached = errors.New("spawnqueue: hard limit reached")

// ErrInvalidState is returned by Cancel when the request is not pending.
var ErrInvalidState = errors.New("spawnqueue: request is not pending")

// Config tunes admission control and the drain loop.
type Config struct {
	SoftLimit         int
	HardLimit         int
	MaxDepth          int
	ProcessIntervalMs int
}

// DefaultConfig returns the controller's default tuning parameters.
func DefaultConfig() Config {
	return Config{SoftLimit: 50, HardLimit: 100, MaxDepth: 3, ProcessIntervalMs: 5000}
}

// Spawner is the narrow dependency the drain loop calls to actually
// start a worker process. Implemented by *worker.Supervisor.
type Spawner interface {
	ActiveCount(ctx context.Context) (int, error)
	SpawnFromRequest(ctx context.Context, req *model.SpawnRequest) (*model.Worker, error)
}

// Controller is the spawn controller: the single gate for spawn intents.
type Controller struct {
	cfg    Config
	store  store.SpawnRequestStore
	spawn  Spawner
	trace  *tracing.Provider
	log    *logging.Logger
	mu     sync.Mutex // serializes enqueue/cancel/drain
	stopCh chan struct{}
	stopped bool
}

// New constructs a Controller. trace may be nil, in which case span
// creation is a no-op.
func New(cfg Config, s store.SpawnRequestStore, spawner Spawner, trace *tracing.Provider, log *logging.Logger) *Controller {
	return &Controller{cfg: cfg, store: s, spawn: spawner, trace: trace, log: log.With(logging.CatSpawnCtl)}
}

// Enqueue validates and persists a new spawn request, applying the
// controller's admission rules.
func (c *Controller) Enqueue(ctx context.Context, req *model.SpawnRequest) (*model.SpawnRequest, error) {
	ctx, span := tracing.Start(ctx, c.trace, "spawnqueue.Enqueue")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	req.ID = model.NewID()
	req.CreatedAt = time.Now()

	active, err := c.spawn.ActiveCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active workers: %w", err)
	}

	if active >= c.cfg.HardLimit || req.DepthLevel > c.cfg.MaxDepth || c.anyDependencyRejected(ctx, req.DependsOn) {
		req.Status = model.SpawnRejected
		if err := c.store.Insert(ctx, req); err != nil {
			return nil, fmt.Errorf("insert rejected spawn request: %w", err)
		}
		c.log.Info("spawn request rejected", "id", req.ID, "depth", req.DepthLevel, "active", active)
		return req, nil
	}

	req.BlockedByCount = c.countUnspawnedDeps(ctx, req.DependsOn)
	req.Status = model.SpawnPending
	if err := c.store.Insert(ctx, req); err != nil {
		return nil, fmt.Errorf("insert spawn request: %w", err)
	}
	c.log.Debug("spawn request enqueued", "id", req.ID, "blockedByCount", req.BlockedByCount)
	return req, nil
}

func (c *Controller) anyDependencyRejected(ctx context.Context, dependsOn []string) bool {
	for _, id := range dependsOn {
		dep, err := c.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if dep.Status == model.SpawnRejected {
			return true
		}
	}
	return false
}

func (c *Controller) countUnspawnedDeps(ctx context.Context, dependsOn []string) int {
	n := 0
	for _, id := range dependsOn {
		dep, err := c.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if dep.Status != model.SpawnSpawned {
			n++
		}
	}
	return n
}

// Cancel transitions a pending request to rejected and decrements
// dependents; downstream requests are not cancelled.
func (c *Controller) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get spawn request: %w", err)
	}
	if req.Status != model.SpawnPending {
		return ErrInvalidState
	}
	req.Status = model.SpawnRejected
	now := time.Now()
	req.ProcessedAt = &now
	if err := c.store.Update(ctx, req); err != nil {
		return fmt.Errorf("update spawn request: %w", err)
	}
	if err := c.store.DecrementDependents(ctx, id); err != nil {
		return fmt.Errorf("decrement dependents: %w", err)
	}
	return nil
}

// Start runs the drain loop until ctx is cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	interval := time.Duration(c.cfg.ProcessIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.stopCh = make(chan struct{})
	for {
		select {
		case <-ticker.C:
			if err := c.drainOnce(ctx); err != nil {
				c.log.ErrorErr("drain cycle failed", err)
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the drain loop.
func (c *Controller) Stop() {
	if c.stopped {
		return
	}
	c.stopped = true
	if c.stopCh != nil {
		close(c.stopCh)
	}
}

// ProcessNow runs a single drain cycle immediately, for callers that
// want to trigger a drain on every status change rather than waiting
// for the next tick.
func (c *Controller) ProcessNow(ctx context.Context) error {
	return c.drainOnce(ctx)
}

func (c *Controller) drainOnce(ctx context.Context) error {
	ctx, span := tracing.Start(ctx, c.trace, "spawnqueue.drainOnce")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	ready, err := c.store.ListPendingReady(ctx, c.cfg.HardLimit)
	if err != nil {
		return fmt.Errorf("list ready spawn requests: %w", err)
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[j].Priority.Less(ready[i].Priority)
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})

	for _, req := range ready {
		active, err := c.spawn.ActiveCount(ctx)
		if err != nil {
			return fmt.Errorf("count active workers: %w", err)
		}
		if active >= c.cfg.SoftLimit {
			c.log.Debug("soft limit reached, stopping drain cycle", "active", active)
			return nil
		}

		worker, err := c.spawn.SpawnFromRequest(ctx, req)
		if err != nil {
			c.log.ErrorErr("spawn from request failed", err, "requestId", req.ID)
			continue
		}

		now := time.Now()
		req.Status = model.SpawnSpawned
		req.ProcessedAt = &now
		req.SpawnedWorkerID = worker.ID
		if err := c.store.Update(ctx, req); err != nil {
			return fmt.Errorf("update spawned request: %w", err)
		}
		if err := c.store.DecrementDependents(ctx, req.ID); err != nil {
			return fmt.Errorf("decrement dependents: %w", err)
		}
	}
	return nil
}
