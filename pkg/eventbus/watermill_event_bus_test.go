package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traction-hq/traction/pkg/channels/gochannel"
	"github.com/traction-hq/traction/pkg/eventbus"
	"github.com/traction-hq/traction/pkg/events"
	"github.com/traction-hq/traction/pkg/models"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.StepCompleted, 1)

	err := bus.Handle(events.StepCompletedEvent, func(_ context.Context, event any) error {
		typed, ok := event.(*events.StepCompleted)
		if ok {
			received <- typed
		}

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	event := events.StepCompleted{
		BaseEvent:   events.NewBaseEvent(events.StepCompletedEvent, "tpl-1"),
		ExecutionID: "exec-1",
		StepID:      "outreach",
		StepIndex:   0,
		CompletedBy: "alex",
	}

	require.NoError(t, bus.Publish(ctx, "exec-1", event))

	select {
	case got := <-received:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, "outreach", got.StepID)
		assert.Equal(t, "tpl-1", got.WorkflowID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan struct{}, 1)

	err := bus.Handle(events.ExecutionCompletedEvent, func(context.Context, any) error {
		received <- struct{}{}

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	// An event type nobody registered for flows through without wedging the
	// subscription.
	unhandled := events.StepStarted{
		BaseEvent:   events.NewBaseEvent(events.StepStartedEvent, "tpl-1"),
		ExecutionID: "exec-1",
		StepID:      "outreach",
		StepType:    models.StepTypeManual,
	}
	require.NoError(t, bus.Publish(ctx, "exec-1", unhandled))

	handled := events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, "tpl-1"),
		ExecutionID: "exec-1",
	}
	require.NoError(t, bus.Publish(ctx, "exec-1", handled))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handled event")
	}
}
