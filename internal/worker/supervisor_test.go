package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/coordinator/internal/eventbus"
	"github.com/fleetctl/coordinator/internal/logging"
	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

type fakeWorkerStore struct {
	mu   sync.Mutex
	byID map[string]*model.Worker
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{byID: map[string]*model.Worker{}}
}

func (f *fakeWorkerStore) Insert(_ context.Context, w *model.Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[w.ID] = w
	return nil
}

func (f *fakeWorkerStore) Update(_ context.Context, w *model.Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[w.ID] = w
	return nil
}

func (f *fakeWorkerStore) Get(_ context.Context, id string) (*model.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return w, nil
}

func (f *fakeWorkerStore) GetByHandle(_ context.Context, teamName, handle string) (*model.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.byID {
		if w.TeamName == teamName && w.Handle == handle && !w.IsTerminal() {
			return w, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeWorkerStore) ListActive(_ context.Context, teamName string) ([]*model.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Worker
	for _, w := range f.byID {
		if w.TeamName == teamName && !w.IsTerminal() {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeWorkerStore) ListNonTerminal(_ context.Context) ([]*model.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Worker
	for _, w := range f.byID {
		if !w.IsTerminal() {
			out = append(out, w)
		}
	}
	return out, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logging.Logger {
	return logging.New(noopWriter{}, 0)
}

func newTestSupervisor(cfg Config) (*Supervisor, *fakeWorkerStore) {
	s := newFakeWorkerStore()
	if cfg.Executable == "" {
		cfg.Executable = "true"
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 5
	}
	if cfg.MaxOutputLines == 0 {
		cfg.MaxOutputLines = 10
	}
	return New(cfg, s, nil, nil, eventbus.New(), nil, testLogger()), s
}

func TestSupervisor_SpawnTracksWorker(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(Config{})

	w, err := sup.Spawn(ctx, SpawnConfig{Handle: "w1", TeamName: "team-a"})
	require.NoError(t, err)
	require.Equal(t, "w1", w.Handle)

	active, err := sup.ActiveCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, active)
}

func TestSupervisor_SpawnRejectsDuplicateHandleInTeam(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(Config{})

	_, err := sup.Spawn(ctx, SpawnConfig{Handle: "w1", TeamName: "team-a"})
	require.NoError(t, err)

	_, err = sup.Spawn(ctx, SpawnConfig{Handle: "w1", TeamName: "team-a"})
	require.Error(t, err)
}

func TestSupervisor_SpawnRejectsAtMaxWorkers(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(Config{MaxWorkers: 1})

	_, err := sup.Spawn(ctx, SpawnConfig{Handle: "w1", TeamName: "team-a"})
	require.NoError(t, err)

	_, err = sup.Spawn(ctx, SpawnConfig{Handle: "w2", TeamName: "team-a"})
	require.Error(t, err)
}

func TestSupervisor_DismissIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(Config{DismissGrace: 100 * time.Millisecond})

	_, err := sup.Spawn(ctx, SpawnConfig{Handle: "w1", TeamName: "team-a"})
	require.NoError(t, err)

	ok, err := sup.Dismiss(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = sup.Dismiss(ctx, "w1")
	require.NoError(t, err)
	require.False(t, ok, "dismissing an already-dismissed worker is a no-op")
}

func TestSupervisor_DismissUnknownHandleReturnsFalse(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(Config{})
	ok, err := sup.Dismiss(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSupervisor_DismissAllClearsManagedSet(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(Config{DismissGrace: 100 * time.Millisecond})

	_, err := sup.Spawn(ctx, SpawnConfig{Handle: "w1", TeamName: "team-a"})
	require.NoError(t, err)
	_, err = sup.Spawn(ctx, SpawnConfig{Handle: "w2", TeamName: "team-a"})
	require.NoError(t, err)

	sup.DismissAll(ctx)

	_, err = sup.GetOutput("w1", 0)
	require.Error(t, err, "dismissed workers are no longer tracked")
}

func TestSupervisor_SendAndGetOutputUnknownHandleErrors(t *testing.T) {
	sup, _ := newTestSupervisor(Config{})
	require.Error(t, sup.Send("ghost", "hello"))

	_, err := sup.GetOutput("ghost", 0)
	require.Error(t, err)
}

func TestSupervisor_SpawnFromRequestDerivesHandleFromRequester(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(Config{})

	req := &model.SpawnRequest{RequesterHandle: "alice", SwarmID: "swarm-1", TargetAgentType: model.RoleWorker}
	w, err := sup.SpawnFromRequest(ctx, req)
	require.NoError(t, err)
	require.Contains(t, w.Handle, "alice-")
	require.Equal(t, model.RoleWorker, w.Role)
}

func TestSupervisor_RecoverOnStartupMarksNonTerminalWorkersError(t *testing.T) {
	ctx := context.Background()
	sup, s := newTestSupervisor(Config{})

	w := &model.Worker{ID: model.NewID(), Handle: "stale", TeamName: "team-a", Status: model.WorkerBusy}
	require.NoError(t, s.Insert(ctx, w))

	require.NoError(t, sup.RecoverOnStartup(ctx))

	got, err := s.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkerError, got.Status)
}

func TestSupervisor_GetOutputReturnsBufferedEvents(t *testing.T) {
	ctx := context.Background()
	sup, _ := newTestSupervisor(Config{Executable: "sh", BaseArgs: []string{"-c", `printf '{"type":"assistant","message":{"content":"hi"}}\n'`}})

	_, err := sup.Spawn(ctx, SpawnConfig{Handle: "w1", TeamName: "team-a"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		lines, err := sup.GetOutput("w1", 0)
		return err == nil && len(lines) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
