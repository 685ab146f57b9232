package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

type fakeTriggerBlackboardStore struct {
	messages []*model.BlackboardMessage
}

func (f *fakeTriggerBlackboardStore) Insert(_ context.Context, m *model.BlackboardMessage) error {
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeTriggerBlackboardStore) Get(_ context.Context, id string) (*model.BlackboardMessage, error) {
	for _, m := range f.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeTriggerBlackboardStore) Query(_ context.Context, q store.BlackboardQuery) ([]*model.BlackboardMessage, error) {
	var out []*model.BlackboardMessage
	for _, m := range f.messages {
		if q.SwarmID != "" && m.SwarmID != q.SwarmID {
			continue
		}
		if q.MessageType != "" && m.MessageType != q.MessageType {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeTriggerBlackboardStore) MarkRead(_ context.Context, ids []string, readerHandle string) error {
	return nil
}

func (f *fakeTriggerBlackboardStore) Archive(_ context.Context, ids []string, now int64) error {
	return nil
}

func (f *fakeTriggerBlackboardStore) ArchiveOlderThan(_ context.Context, before int64) (int, error) {
	return 0, nil
}

func blackboardTriggerDef() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		ID:      "wf-triggered",
		Version: 1,
		Definition: model.WorkflowDefinitionBody{
			Steps: []model.StepDefinition{{Key: "a", Type: model.StepTask}},
		},
	}
}

func TestPollBlackboardTriggers_FiresOnMatchingMessage(t *testing.T) {
	te := newTestEngine()
	require.NoError(t, te.defs.Insert(context.Background(), blackboardTriggerDef()))

	trig := &model.WorkflowTrigger{
		ID:          "trig-1",
		WorkflowID:  "wf-triggered",
		TriggerType: model.TriggerBlackboard,
		Config:      map[string]any{"messageType": "task_complete", "swarmId": "swarm-1"},
		IsEnabled:   true,
	}
	triggers := newFakeTriggerStore()
	triggers.Insert(context.Background(), trig)
	te.eng.triggers = triggers

	bb := &fakeTriggerBlackboardStore{}
	bb.Insert(context.Background(), &model.BlackboardMessage{
		ID: "m1", SwarmID: "swarm-1", MessageType: "task_complete",
		Payload: map[string]any{"result": "ok"}, CreatedAt: time.Now(),
	})

	require.NoError(t, te.eng.PollBlackboardTriggers(context.Background(), bb))

	updated, err := triggers.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, updated[0].FireCount)
	require.NotNil(t, updated[0].LastFiredAt)
}

func TestPollBlackboardTriggers_SkipsMessageBeforeLastFiredAt(t *testing.T) {
	te := newTestEngine()
	require.NoError(t, te.defs.Insert(context.Background(), blackboardTriggerDef()))

	past := time.Now()
	trig := &model.WorkflowTrigger{
		ID:          "trig-1",
		WorkflowID:  "wf-triggered",
		TriggerType: model.TriggerBlackboard,
		Config:      map[string]any{"messageType": "task_complete"},
		IsEnabled:   true,
		LastFiredAt: &past,
	}
	triggers := newFakeTriggerStore()
	triggers.Insert(context.Background(), trig)
	te.eng.triggers = triggers

	bb := &fakeTriggerBlackboardStore{}
	bb.Insert(context.Background(), &model.BlackboardMessage{
		ID: "m1", MessageType: "task_complete", CreatedAt: past.Add(-time.Minute),
	})

	require.NoError(t, te.eng.PollBlackboardTriggers(context.Background(), bb))

	updated, err := triggers.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, updated[0].FireCount, "message older than LastFiredAt must not refire")
}

func TestPollBlackboardTriggers_PayloadMatchFiltersMessages(t *testing.T) {
	te := newTestEngine()
	require.NoError(t, te.defs.Insert(context.Background(), blackboardTriggerDef()))

	trig := &model.WorkflowTrigger{
		ID:          "trig-1",
		WorkflowID:  "wf-triggered",
		TriggerType: model.TriggerBlackboard,
		Config: map[string]any{
			"messageType":  "task_complete",
			"payloadMatch": map[string]any{"status": "done"},
		},
		IsEnabled: true,
	}
	triggers := newFakeTriggerStore()
	triggers.Insert(context.Background(), trig)
	te.eng.triggers = triggers

	bb := &fakeTriggerBlackboardStore{}
	bb.Insert(context.Background(), &model.BlackboardMessage{
		ID: "m1", MessageType: "task_complete",
		Payload: map[string]any{"status": "pending"}, CreatedAt: time.Now(),
	})
	bb.Insert(context.Background(), &model.BlackboardMessage{
		ID: "m2", MessageType: "task_complete",
		Payload: map[string]any{"status": "done"}, CreatedAt: time.Now(),
	})

	require.NoError(t, te.eng.PollBlackboardTriggers(context.Background(), bb))

	updated, err := triggers.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, updated[0].FireCount, "only the matching-payload message should fire the trigger")
}

func TestPollBlackboardTriggers_FiresOncePerMatchInOnePoll(t *testing.T) {
	te := newTestEngine()
	require.NoError(t, te.defs.Insert(context.Background(), blackboardTriggerDef()))

	trig := &model.WorkflowTrigger{
		ID:          "trig-1",
		WorkflowID:  "wf-triggered",
		TriggerType: model.TriggerBlackboard,
		Config:      map[string]any{"messageType": "task_complete", "swarmId": "swarm-1"},
		IsEnabled:   true,
	}
	triggers := newFakeTriggerStore()
	triggers.Insert(context.Background(), trig)
	te.eng.triggers = triggers

	now := time.Now()
	bb := &fakeTriggerBlackboardStore{}
	bb.Insert(context.Background(), &model.BlackboardMessage{
		ID: "m1", SwarmID: "swarm-1", MessageType: "task_complete",
		Payload: map[string]any{"result": "ok"}, CreatedAt: now,
	})
	bb.Insert(context.Background(), &model.BlackboardMessage{
		ID: "m2", SwarmID: "swarm-1", MessageType: "task_complete",
		Payload: map[string]any{"result": "ok"}, CreatedAt: now.Add(time.Second),
	})
	bb.Insert(context.Background(), &model.BlackboardMessage{
		ID: "m3", SwarmID: "swarm-1", MessageType: "task_complete",
		Payload: map[string]any{"result": "ok"}, CreatedAt: now.Add(2 * time.Second),
	})

	require.NoError(t, te.eng.PollBlackboardTriggers(context.Background(), bb))

	updated, err := triggers.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, updated[0].FireCount, "three matching messages in one poll cycle fire the trigger three times")

	execs, err := te.execs.ListRunning(context.Background())
	require.NoError(t, err)
	require.Len(t, execs, 3)
	ids := make([]string, 0, len(execs))
	for _, ex := range execs {
		ids = append(ids, ex.Context["triggerMessage"].(*model.BlackboardMessage).ID)
	}
	require.ElementsMatch(t, []string{"m1", "m2", "m3"}, ids, "each matching message starts its own execution")
}

func TestCheckEventTrigger_FiresNamedTrigger(t *testing.T) {
	te := newTestEngine()
	require.NoError(t, te.defs.Insert(context.Background(), blackboardTriggerDef()))

	trig := &model.WorkflowTrigger{
		ID:          "trig-evt",
		WorkflowID:  "wf-triggered",
		TriggerType: model.TriggerEvent,
		Config:      map[string]any{"swarmId": "swarm-1"},
		IsEnabled:   true,
	}
	triggers := newFakeTriggerStore()
	triggers.Insert(context.Background(), trig)
	te.eng.triggers = triggers

	require.NoError(t, te.eng.CheckEventTrigger(context.Background(), "trig-evt", map[string]any{"foo": "bar"}))

	updated, err := triggers.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, updated[0].FireCount)
}

func TestCheckEventTrigger_UnknownTriggerIDErrors(t *testing.T) {
	te := newTestEngine()
	err := te.eng.CheckEventTrigger(context.Background(), "ghost", nil)
	require.Error(t, err)
}

func TestPayloadMatches(t *testing.T) {
	require.True(t, payloadMatches(map[string]any{"a": "1", "b": "2"}, map[string]any{"a": "1"}))
	require.False(t, payloadMatches(map[string]any{"a": "1"}, map[string]any{"a": "2"}))
	require.True(t, payloadMatches(map[string]any{"a": "1"}, nil))
}

func TestDecodeTriggerConfig_ExtractsKnownFields(t *testing.T) {
	cfg := decodeTriggerConfig(map[string]any{
		"messageType":  "task_complete",
		"swarmId":      "swarm-1",
		"payloadMatch": map[string]any{"status": "done"},
	})
	require.Equal(t, "task_complete", cfg.MessageType)
	require.Equal(t, "swarm-1", cfg.SwarmID)
	require.Equal(t, "done", cfg.PayloadMatch["status"])
}
