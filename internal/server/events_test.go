package server

import (
	"context"
	"testing"
	"time"
)

func TestEventDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "garage-1")
	defer cleanup()

	dispatcher.Publish(FleetEvent{
		GarageID:  "garage-1",
		EventType: EventVehicleChanged,
		EntityIDs: []string{"vehicle-a", "vehicle-b"},
		Timestamp: time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.EventType != EventVehicleChanged {
			t.Fatalf("expected event type %s, got %s", EventVehicleChanged, received.EventType)
		}
		if len(received.EntityIDs) != 2 {
			t.Fatalf("expected 2 entity ids, got %d", len(received.EntityIDs))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected fleet event within deadline")
	}
}

func TestEventDispatcherIsolatedByGarage(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherCtx, otherCancel := context.WithCancel(context.Background())
	defer otherCancel()

	garageStream, cleanup := dispatcher.Subscribe(ctx, "garage-2")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(otherCtx, "garage-3")
	defer otherCleanup()

	dispatcher.Publish(FleetEvent{
		GarageID:  "garage-3",
		EventType: EventPendingChanged,
		EntityIDs: []string{"vehicle-c"},
		Timestamp: time.Now().UTC(),
	})

	select {
	case <-garageStream:
		t.Fatal("did not expect fleet event for unrelated garage")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case event := <-otherStream:
		if event.GarageID != "garage-3" {
			t.Fatalf("expected garage-3, received %s", event.GarageID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected fleet event for subscribed garage")
	}
}

func TestEventDispatcherUnsubscribesOnContextCancel(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, cleanup := dispatcher.Subscribe(ctx, "garage-4")
	defer cleanup()
	cancel()

	// The goroutine watching ctx needs a moment to unregister.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		_, registered := dispatcher.subscribers["garage-4"]
		dispatcher.mu.RUnlock()
		if !registered {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	dispatcher.Publish(FleetEvent{
		GarageID:  "garage-4",
		EventType: EventVehicleChanged,
		Timestamp: time.Now().UTC(),
	})
	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("did not expect event after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
