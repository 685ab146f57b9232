package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetctl/coordinator/internal/model"
	"github.com/fleetctl/coordinator/internal/store"
)

// TriggerConfig is the shape of WorkflowTrigger.Config for a blackboard
// trigger: fire startWorkflow whenever a blackboard message matching
// MessageType (and, if set, every key in PayloadMatch) appears.
type TriggerConfig struct {
	MessageType  string
	PayloadMatch map[string]any
	SwarmID      string
}

// PollBlackboardTriggers checks every enabled blackboard trigger against
// messages posted since its LastFiredAt and starts a workflow execution
// per matching message. Event/schedule/webhook triggers are fired by
// their respective transport-layer callers via CheckEventTrigger; this
// is the only trigger kind the engine polls for itself, since blackboard
// posts are already a first-class store query.
func (e *Engine) PollBlackboardTriggers(ctx context.Context, bb store.BlackboardStore) error {
	triggers, err := e.triggers.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled triggers: %w", err)
	}

	for _, t := range triggers {
		if t.TriggerType != model.TriggerBlackboard {
			continue
		}
		cfg := decodeTriggerConfig(t.Config)

		messages, err := bb.Query(ctx, store.BlackboardQuery{
			SwarmID:     cfg.SwarmID,
			MessageType: cfg.MessageType,
			Limit:       50,
		})
		if err != nil {
			e.log.ErrorErr("trigger blackboard query failed", err, "triggerId", t.ID)
			continue
		}

		// Every matching message newer than LastFiredAt as it stood at the
		// start of this poll fires the trigger once; fireTrigger advances
		// LastFiredAt each time.
		since := t.LastFiredAt
		for _, msg := range messages {
			if since != nil && !msg.CreatedAt.After(*since) {
				continue
			}
			if !payloadMatches(msg.Payload, cfg.PayloadMatch) {
				continue
			}
			if err := e.fireTrigger(ctx, t, msg); err != nil {
				e.log.ErrorErr("trigger fire failed", err, "triggerId", t.ID)
			}
		}
	}
	return nil
}

// CheckEventTrigger is called by a transport layer (e.g. the WebSocket
// hub or an external webhook handler) when an event/webhook condition
// external to the blackboard has occurred. matched carries whatever
// context the caller wants folded into the started execution's inputs
// under the "triggerPayload" key.
func (e *Engine) CheckEventTrigger(ctx context.Context, triggerID string, matched map[string]any) error {
	triggers, err := e.triggers.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled triggers: %w", err)
	}
	for _, t := range triggers {
		if t.ID != triggerID {
			continue
		}
		return e.fireTrigger(ctx, t, matched)
	}
	return fmt.Errorf("trigger %q not found or not enabled", triggerID)
}

func (e *Engine) fireTrigger(ctx context.Context, t *model.WorkflowTrigger, triggerPayload any) error {
	inputs := map[string]any{"triggerMessage": triggerPayload}
	swarmID, _ := t.Config["swarmId"].(string)

	if _, err := e.StartWorkflow(ctx, t.WorkflowID, "trigger:"+t.ID, inputs, swarmID); err != nil {
		return fmt.Errorf("start triggered workflow: %w", err)
	}

	now := time.Now()
	t.LastFiredAt = &now
	t.FireCount++
	if err := e.triggers.Update(ctx, t); err != nil {
		return fmt.Errorf("update trigger fire count: %w", err)
	}
	return nil
}

func decodeTriggerConfig(raw map[string]any) TriggerConfig {
	cfg := TriggerConfig{}
	if v, ok := raw["messageType"].(string); ok {
		cfg.MessageType = v
	}
	if v, ok := raw["swarmId"].(string); ok {
		cfg.SwarmID = v
	}
	if v, ok := raw["payloadMatch"].(map[string]any); ok {
		cfg.PayloadMatch = v
	}
	return cfg
}

func payloadMatches(payload map[string]any, want map[string]any) bool {
	for k, v := range want {
		if payload[k] != v {
			return false
		}
	}
	return true
}
