package workflow

import (
	"context"
	"sync"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

type fakeDefStore struct {
	byID map[string]*model.WorkflowDefinition
}

func newFakeDefStore() *fakeDefStore {
	return &fakeDefStore{byID: map[string]*model.WorkflowDefinition{}}
}

func (f *fakeDefStore) Insert(_ context.Context, d *model.WorkflowDefinition) error {
	f.byID[d.ID] = d
	return nil
}

func (f *fakeDefStore) Get(_ context.Context, id string) (*model.WorkflowDefinition, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeDefStore) List(_ context.Context) ([]*model.WorkflowDefinition, error) {
	var out []*model.WorkflowDefinition
	for _, d := range f.byID {
		out = append(out, d)
	}
	return out, nil
}

type fakeExecStore struct {
	mu   sync.Mutex
	byID map[string]*model.WorkflowExecution
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{byID: map[string]*model.WorkflowExecution{}}
}

func (f *fakeExecStore) Insert(_ context.Context, e *model.WorkflowExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[e.ID] = e
	return nil
}

func (f *fakeExecStore) Update(_ context.Context, e *model.WorkflowExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[e.ID] = e
	return nil
}

func (f *fakeExecStore) Get(_ context.Context, id string) (*model.WorkflowExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExecStore) ListRunning(_ context.Context) ([]*model.WorkflowExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.WorkflowExecution
	for _, e := range f.byID {
		if e.Status == model.ExecRunning {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeStepStore struct {
	mu   sync.Mutex
	byID map[string]*model.WorkflowStep
}

func newFakeStepStore() *fakeStepStore {
	return &fakeStepStore{byID: map[string]*model.WorkflowStep{}}
}

func (f *fakeStepStore) InsertBatch(_ context.Context, steps []*model.WorkflowStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range steps {
		f.byID[s.ID] = s
	}
	return nil
}

func (f *fakeStepStore) Update(_ context.Context, s *model.WorkflowStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[s.ID] = s
	return nil
}

func (f *fakeStepStore) Get(_ context.Context, id string) (*model.WorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStepStore) ListByExecution(_ context.Context, executionID string) ([]*model.WorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.WorkflowStep
	for _, s := range f.byID {
		if s.ExecutionID == executionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStepStore) GetReadySteps(_ context.Context, executionID string, limit int) ([]*model.WorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []*model.WorkflowStep
	for _, s := range f.byID {
		if len(claimed) >= limit {
			break
		}
		if s.ExecutionID == executionID && s.Status == model.StepReady {
			s.Status = model.StepRunning
			claimed = append(claimed, s)
		}
	}
	return claimed, nil
}

func (f *fakeStepStore) DecrementDependents(_ context.Context, executionID, completedKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.ExecutionID != executionID {
			continue
		}
		for _, dep := range s.DependsOn {
			if dep == completedKey {
				if s.BlockedByCount > 0 {
					s.BlockedByCount--
				}
				if s.BlockedByCount == 0 && s.Status == model.StepPending {
					s.Status = model.StepReady
				}
			}
		}
	}
	return nil
}

type fakeTriggerStore struct {
	mu   sync.Mutex
	byID map[string]*model.WorkflowTrigger
}

func newFakeTriggerStore() *fakeTriggerStore {
	return &fakeTriggerStore{byID: map[string]*model.WorkflowTrigger{}}
}

func (f *fakeTriggerStore) Insert(_ context.Context, t *model.WorkflowTrigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[t.ID] = t
	return nil
}

func (f *fakeTriggerStore) Update(_ context.Context, t *model.WorkflowTrigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[t.ID] = t
	return nil
}

func (f *fakeTriggerStore) ListEnabled(_ context.Context) ([]*model.WorkflowTrigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.WorkflowTrigger
	for _, t := range f.byID {
		if t.IsEnabled {
			out = append(out, t)
		}
	}
	return out, nil
}
