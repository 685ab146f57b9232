package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx, Topic("swarm:alpha"))
	bus.Publish(Topic("swarm:alpha"), EventWorkerSpawned, "payload")

	select {
	case ev := <-ch:
		require.Equal(t, EventWorkerSpawned, ev.Type)
		require.Equal(t, "payload", ev.Payload)
		require.False(t, ev.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timed out waiting for event")
	}
}

func TestBus_TopicFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	ctx := context.Background()
	chA := bus.Subscribe(ctx, Topic("swarm:alpha"))
	chB := bus.Subscribe(ctx, Topic("swarm:bravo"))

	bus.Publish(Topic("swarm:alpha"), EventWorkerDismissed, nil)

	select {
	case <-chA:
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "subscriber to matching topic did not receive event")
	}

	select {
	case <-chB:
		require.Fail(t, "subscriber to non-matching topic should not receive event")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_Wildcard(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := bus.Subscribe(context.Background(), WildcardTopic)
	bus.Publish(Topic("swarm:anything"), EventBroadcast, nil)

	select {
	case ev := <-ch:
		require.Equal(t, EventBroadcast, ev.Type)
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "wildcard subscriber did not receive event")
	}
}

func TestBus_ContextCancellationUnsubscribes(t *testing.T) {
	bus := New()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_ = bus.Subscribe(ctx, WildcardTopic)
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, bus.SubscriberCount())
}

func TestBus_PublishWorkflowAndStepEvents(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := bus.Subscribe(context.Background(), WildcardTopic)
	bus.PublishWorkflowEvent(Topic("swarm:alpha"), "started", nil)
	bus.PublishStepEvent(Topic("swarm:alpha"), "completed", nil)

	ev1 := <-ch
	require.Equal(t, EventType("workflow:started"), ev1.Type)
	require.True(t, IsWorkflowEvent(ev1.Type))

	ev2 := <-ch
	require.Equal(t, EventType("step:completed"), ev2.Type)
	require.True(t, IsStepEvent(ev2.Type))
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(context.Background(), WildcardTopic)
	bus.Close()

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")

	// Publish/Subscribe after Close must not panic.
	bus.Publish(Topic("x"), EventBroadcast, nil)
	newCh := bus.Subscribe(context.Background(), WildcardTopic)
	_, ok = <-newCh
	require.False(t, ok)
}

func TestHeartbeat_TickAndPong(t *testing.T) {
	hb := &Heartbeat{}
	require.False(t, hb.Tick(), "first miss should not trip")
	require.True(t, hb.Tick(), "second consecutive miss reaches MaxMissedPongs and trips")
	require.True(t, hb.Tick(), "third consecutive miss still trips")

	hb.Pong()
	require.False(t, hb.Tick(), "a pong resets the miss counter")
}
