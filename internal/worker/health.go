package worker

import (
	"context"
	"time"

	"github.com/fleetctl/coordinator/internal/checkpoint"
	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/tracing"
)

// StartHealthChecker runs the health state machine every
// HealthCheckInterval until ctx is cancelled.
func (s *Supervisor) StartHealthChecker(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkHealthOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) checkHealthOnce(ctx context.Context) {
	ctx, span := tracing.Start(ctx, s.trace, "worker.checkHealthOnce")
	defer span.End()

	now := time.Now()

	s.mu.RLock()
	handles := make([]string, 0, len(s.managed))
	for h := range s.managed {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	for _, handle := range handles {
		s.mu.RLock()
		mw, ok := s.managed[handle]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		health := mw.worker.Health(now, s.cfg.HealthyThreshold, s.cfg.UnhealthyThreshold)
		if health != model.HealthUnhealthy {
			continue
		}
		if !s.cfg.AutoRestart {
			continue
		}
		if mw.worker.RestartCount >= s.cfg.MaxRestartAttempts {
			s.mu.Lock()
			mw.worker.Status = model.WorkerError
			worker := *mw.worker
			s.mu.Unlock()
			_ = s.store.Update(ctx, &worker)
			s.log.Warn("worker exhausted restart attempts, marking error", "handle", handle, "restartCount", worker.RestartCount)
			continue
		}

		if err := s.restart(ctx, mw); err != nil {
			s.log.ErrorErr("worker restart failed", err, "handle", handle)
		}
	}
}

// restart dismisses and respawns an unhealthy worker, preserving its
// session id and prepending its latest checkpoint.
func (s *Supervisor) restart(ctx context.Context, mw *managedWorker) error {
	ctx, span := tracing.Start(ctx, s.trace, "worker.restart")
	defer span.End()

	handle := mw.worker.Handle
	cfg := SpawnConfig{
		Handle:         handle,
		TeamName:       mw.worker.TeamName,
		Role:           mw.worker.Role,
		SwarmID:        mw.worker.SwarmID,
		DepthLevel:     mw.worker.DepthLevel,
		InitialPrompt:  mw.worker.InitialPrompt,
		SessionID:      mw.worker.SessionID,
		WorktreePath:   mw.worker.WorktreePath,
		WorktreeBranch: mw.worker.WorktreeBranch,
	}
	restartCount := mw.worker.RestartCount + 1

	if s.cps != nil {
		if latest, err := s.cps.GetLatest(ctx, handle); err == nil && latest != nil {
			cfg.InitialPrompt = checkpoint.FormatForResume(latest) + "\n\n" + cfg.InitialPrompt
		}
	}

	if _, err := s.Dismiss(ctx, handle); err != nil {
		return err
	}

	w, err := s.Spawn(ctx, cfg)
	if err != nil {
		return err
	}
	w.RestartCount = restartCount
	return s.store.Update(ctx, w)
}

// RecoverOnStartup loads workers with non-terminal status from storage
// (the "recoverable" set) and transitions them to error, since their OS
// process does not survive a coordinator restart.
func (s *Supervisor) RecoverOnStartup(ctx context.Context) error {
	workers, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, w := range workers {
		w.Status = model.WorkerError
		if err := s.store.Update(ctx, w); err != nil {
			return err
		}
		s.log.Warn("recovered worker marked error on startup (process not resumable across restarts)", "handle", w.Handle)
	}
	return nil
}
