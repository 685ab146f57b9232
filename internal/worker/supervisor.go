package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fleetctl/coordinator/internal/checkpoint"
	"github.com/fleetctl/coordinator/internal/eventbus"
	"github.com/fleetctl/coordinator/internal/logging"
	"github.com/fleetctl/coordinator/internal/mailbox"
	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
	"github.com/fleetctl/coordinator/internal/tracing"
)

// Config tunes the worker supervisor.
type Config struct {
	MaxWorkers          int
	HealthCheckInterval time.Duration
	HealthyThreshold    time.Duration
	UnhealthyThreshold  time.Duration
	MaxRestartAttempts  int
	MaxOutputLines      int
	DismissGrace        time.Duration
	AutoRestart         bool
	Executable          string
	BaseArgs            []string
	// CoordinatorAddr is handed to spawned workers as CLAUDE_FLEET_URL so
	// they can address callbacks back to this process.
	CoordinatorAddr string
}

// DefaultConfig returns the supervisor's default tuning parameters.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:          5,
		HealthCheckInterval: 15 * time.Second,
		HealthyThreshold:    30 * time.Second,
		UnhealthyThreshold:  60 * time.Second,
		MaxRestartAttempts:  3,
		MaxOutputLines:      100,
		DismissGrace:        5 * time.Second,
		AutoRestart:         true,
	}
}

// SpawnConfig describes a single spawn request handed to the supervisor.
type SpawnConfig struct {
	Handle         string
	TeamName       string
	Role           model.Role
	SwarmID        string
	DepthLevel     int
	InitialPrompt  string
	SessionID      string // set when resuming
	WorktreePath   string
	WorktreeBranch string
}

// managedWorker pairs a persisted Worker row with its live process and
// output ring buffer.
type managedWorker struct {
	worker  *model.Worker
	process *Process
	output  *ringBuffer
}

// Supervisor manages the bounded population of subprocess workers. It
// is the core subsystem the spawn controller drains into.
type Supervisor struct {
	cfg      Config
	store    store.WorkerStore
	mailbox  *mailbox.Mailbox
	cps      *checkpoint.Checkpoints
	bus      *eventbus.Bus
	trace    *tracing.Provider
	log      *logging.Logger

	mu      sync.RWMutex
	managed map[string]*managedWorker // keyed by handle
}

// New constructs a Supervisor. trace may be nil, in which case span
// creation is a no-op.
func New(cfg Config, s store.WorkerStore, mb *mailbox.Mailbox, cps *checkpoint.Checkpoints, bus *eventbus.Bus, trace *tracing.Provider, log *logging.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		store:   s,
		mailbox: mb,
		cps:     cps,
		bus:     bus,
		trace:   trace,
		log:     log.With(logging.CatSupervisor),
		managed: make(map[string]*managedWorker),
	}
}

// ActiveCount returns the number of non-dismissed tracked workers,
// satisfying spawnqueue.Spawner.
func (s *Supervisor) ActiveCount(ctx context.Context) (int, error) {
	workers, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("list non-terminal workers: %w", err)
	}
	return len(workers), nil
}

// SpawnFromRequest adapts a queued SpawnRequest into a Spawn call,
// satisfying spawnqueue.Spawner.
func (s *Supervisor) SpawnFromRequest(ctx context.Context, req *model.SpawnRequest) (*model.Worker, error) {
	cfg := SpawnConfig{
		Handle:        req.RequesterHandle + "-" + model.NewID()[:8],
		TeamName:      req.SwarmID,
		Role:          req.TargetAgentType,
		SwarmID:       req.SwarmID,
		DepthLevel:    req.DepthLevel,
		InitialPrompt: req.Payload.Task,
	}
	if req.Payload.Checkpoint != nil {
		cfg.InitialPrompt = checkpoint.FormatForResume(req.Payload.Checkpoint) + "\n\n" + cfg.InitialPrompt
	}
	return s.Spawn(ctx, cfg)
}

// Spawn starts a new subprocess worker. Preconditions: active count below
// maxWorkers, and the handle is not already in use within the team.
func (s *Supervisor) Spawn(ctx context.Context, cfg SpawnConfig) (*model.Worker, error) {
	ctx, span := tracing.Start(ctx, s.trace, "worker.Spawn")
	defer span.End()

	active, err := s.ActiveCount(ctx)
	if err != nil {
		return nil, err
	}
	if active >= s.cfg.MaxWorkers {
		return nil, fmt.Errorf("worker supervisor: max workers (%d) reached", s.cfg.MaxWorkers)
	}
	if _, err := s.store.GetByHandle(ctx, cfg.TeamName, cfg.Handle); err == nil {
		return nil, fmt.Errorf("worker supervisor: handle %q already in use", cfg.Handle)
	}

	prompt := cfg.InitialPrompt
	if s.mailbox != nil {
		injected, err := s.mailbox.FormatForInjection(ctx, cfg.Handle)
		if err == nil && injected != "" {
			prompt = injected + "\n\n" + prompt
		}
	}

	w := &model.Worker{
		ID:             model.NewID(),
		Handle:         cfg.Handle,
		TeamName:       cfg.TeamName,
		Role:           cfg.Role,
		Status:         model.WorkerPending,
		SwarmID:        cfg.SwarmID,
		DepthLevel:     cfg.DepthLevel,
		SessionID:      cfg.SessionID,
		InitialPrompt:  prompt,
		WorktreePath:   cfg.WorktreePath,
		WorktreeBranch: cfg.WorktreeBranch,
		LastHeartbeat:  time.Now(),
		CreatedAt:      time.Now(),
	}
	if err := s.store.Insert(ctx, w); err != nil {
		return nil, fmt.Errorf("insert worker: %w", err)
	}

	procCfg := ProcessConfig{
		Executable: s.cfg.Executable,
		Args:       s.cfg.BaseArgs,
		WorkDir:    cfg.WorktreePath,
		Env:        s.subprocessEnv(w),
		Prompt:     prompt,
	}
	if w.SessionID != "" {
		procCfg.Args = append(append([]string{}, procCfg.Args...), "--resume", w.SessionID)
	}

	proc, err := Spawn(ctx, procCfg)
	if err != nil {
		w.Status = model.WorkerError
		_ = s.store.Update(ctx, w)
		return nil, fmt.Errorf("spawn subprocess: %w", err)
	}

	mw := &managedWorker{worker: w, process: proc, output: newRingBuffer(s.cfg.MaxOutputLines)}
	s.mu.Lock()
	s.managed[w.Handle] = mw
	s.mu.Unlock()

	go s.pumpEvents(ctx, mw)

	s.bus.Publish(eventbus.Topic("swarm:"+w.SwarmID), eventbus.EventWorkerSpawned, w)
	s.log.Info("worker spawned", "handle", w.Handle, "role", w.Role)
	return w, nil
}

// subprocessEnv builds the environment handed to a spawned worker,
// carrying its identity so it can address itself in any callback it
// makes.
func (s *Supervisor) subprocessEnv(w *model.Worker) []string {
	env := os.Environ()
	env = append(env,
		"CLAUDE_CODE_AGENT_NAME="+w.Handle,
		"CLAUDE_CODE_AGENT_ID="+w.ID,
		"CLAUDE_CODE_TEAM_NAME="+w.TeamName,
		"CLAUDE_CODE_AGENT_TYPE="+string(w.Role),
		"CLAUDE_CODE_AGENT_UID="+w.ID,
		"CLAUDE_CODE_SWARM_ID="+w.SwarmID,
		"CLAUDE_FLEET_URL="+s.cfg.CoordinatorAddr,
	)
	return env
}

// pumpEvents drains a worker's parsed output stream, updating heartbeat,
// session id, and the ring buffer, and broadcasting worker:output events.
func (s *Supervisor) pumpEvents(ctx context.Context, mw *managedWorker) {
	for ev := range mw.process.Events() {
		s.mu.Lock()
		seq := mw.output.Write(ev)
		mw.worker.LastHeartbeat = time.Now()
		if ev.IsInit() && ev.SessionID != "" {
			mw.worker.SessionID = ev.SessionID
		}
		worker := *mw.worker
		s.mu.Unlock()

		_ = s.store.Update(ctx, &worker)
		s.bus.Publish(eventbus.Topic("worker:"+worker.Handle), eventbus.EventWorkerOutput,
			struct {
				Handle string
				Seq    int64
				Event  OutputEvent
			}{worker.Handle, seq, ev})
	}
}

// Dismiss signals a worker to stop, transitioning it to dismissed.
// Idempotent: dismissing an already-dismissed worker returns false.
func (s *Supervisor) Dismiss(ctx context.Context, handle string) (bool, error) {
	ctx, span := tracing.Start(ctx, s.trace, "worker.Dismiss")
	defer span.End()

	s.mu.Lock()
	mw, ok := s.managed[handle]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if mw.worker.IsTerminal() {
		return false, nil
	}

	_ = mw.process.Signal(s.cfg.DismissGrace)

	s.mu.Lock()
	now := time.Now()
	mw.worker.Status = model.WorkerDismissed
	mw.worker.DismissedAt = &now
	worker := *mw.worker
	delete(s.managed, handle)
	s.mu.Unlock()

	if err := s.store.Update(ctx, &worker); err != nil {
		return false, fmt.Errorf("update dismissed worker: %w", err)
	}
	s.bus.Publish(eventbus.Topic("swarm:"+worker.SwarmID), eventbus.EventWorkerDismissed, worker)
	s.log.Info("worker dismissed", "handle", handle)
	return true, nil
}

// DismissAll dismisses every tracked worker in parallel, used on
// shutdown.
func (s *Supervisor) DismissAll(ctx context.Context) {
	s.mu.RLock()
	handles := make([]string, 0, len(s.managed))
	for h := range s.managed {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(handle string) {
			defer wg.Done()
			if _, err := s.Dismiss(ctx, handle); err != nil {
				s.log.ErrorErr("dismiss failed during shutdown", err, "handle", handle)
			}
		}(h)
	}
	wg.Wait()
}

// Send pushes a line to the worker's stdin.
func (s *Supervisor) Send(handle, message string) error {
	s.mu.RLock()
	mw, ok := s.managed[handle]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("worker %q not found", handle)
	}
	return mw.process.Send(message)
}

// GetOutput returns the tail of handle's output ring buffer newer than
// since.
func (s *Supervisor) GetOutput(handle string, since int64) ([]OutputLine, error) {
	s.mu.RLock()
	mw, ok := s.managed[handle]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("worker %q not found", handle)
	}
	return mw.output.Since(since), nil
}
