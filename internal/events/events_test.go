package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/events"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	t.Parallel()

	bus := events.New()
	ch, unsubscribe := bus.Subscribe("requests")
	defer unsubscribe()

	bus.Publish("requests", events.EventSealed{Counter: "requests", BucketStart: 1, BucketEnd: 2})

	select {
	case ev := <-ch:
		sealed, ok := ev.(events.EventSealed)
		require.True(t, ok)
		require.Equal(t, int64(1), sealed.BucketStart)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_PublishIgnoresOtherCounters(t *testing.T) {
	t.Parallel()

	bus := events.New()
	ch, unsubscribe := bus.Subscribe("requests")
	defer unsubscribe()

	bus.Publish("errors", events.EventDropped{Counter: "errors", TimeMS: 5})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := events.New()
	ch, unsubscribe := bus.Subscribe("requests")
	unsubscribe()

	bus.Publish("requests", events.EventDropped{Counter: "requests", TimeMS: 1})

	_, open := <-ch
	require.False(t, open)
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	bus := events.New()
	_, unsubscribe := bus.Subscribe("requests")
	defer unsubscribe()

	done := make(chan struct{})

	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish("requests", events.EventDropped{Counter: "requests", TimeMS: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}
