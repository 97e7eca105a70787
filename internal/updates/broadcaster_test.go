package updates_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doccomply/backend/internal/updates"
)

func TestBroadcaster_Fanout(t *testing.T) {
	b := updates.New()

	first := b.Subscribe("run-1")
	second := b.Subscribe("run-1")
	other := b.Subscribe("run-2")

	b.Publish("run-1", updates.Event{Status: "processing", Payload: map[string]any{"run_id": "run-1"}})

	for _, sub := range []*updates.Subscriber{first, second} {
		select {
		case event := <-sub.Events():
			assert.Equal(t, "processing", event.Status)
			assert.Nil(t, event.Step)
		default:
			t.Fatal("expected a delivered event")
		}
	}

	select {
	case <-other.Events():
		t.Fatal("subscriber of another run must not receive the event")
	default:
	}
}

func TestBroadcaster_StepEvents(t *testing.T) {
	b := updates.New()
	sub := b.Subscribe("run-1")

	step := "data_engineering"
	b.Publish("run-1", updates.Event{Status: "started", Step: &step})

	event := <-sub.Events()
	require.NotNil(t, event.Step)
	assert.Equal(t, "data_engineering", *event.Step)
	assert.Equal(t, "started", event.Status)
}

func TestBroadcaster_SlowSubscriberPruned(t *testing.T) {
	b := updates.New()

	slow := b.Subscribe("run-1")
	healthy := b.Subscribe("run-1")

	// Fill the slow subscriber's buffer without draining, then one more.
	for i := 0; i < 17; i++ {
		b.Publish("run-1", updates.Event{Status: "processing"})

		// Keep the healthy subscriber drained so only the slow one overflows.
		<-healthy.Events()
	}

	assert.Equal(t, 1, b.SubscriberCount("run-1"))

	// The pruned subscriber's channel is closed after its buffer drains.
	received := 0
	for range slow.Events() {
		received++
	}
	assert.Equal(t, 16, received)

	// Publishing keeps working for the survivor.
	b.Publish("run-1", updates.Event{Status: "completed"})
	event := <-healthy.Events()
	assert.Equal(t, "completed", event.Status)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := updates.New()

	sub := b.Subscribe("run-1")
	require.Equal(t, 1, b.SubscriberCount("run-1"))

	b.Unsubscribe("run-1", sub)
	assert.Equal(t, 0, b.SubscriberCount("run-1"))

	_, open := <-sub.Events()
	assert.False(t, open)

	// Double unsubscribe is harmless.
	b.Unsubscribe("run-1", sub)

	// Publishing to a run without subscribers is a no-op.
	b.Publish("run-1", updates.Event{Status: "completed"})
}
