package server

import (
	"context"
	"sync"
	"time"
)

const (
	// EventVehicleChanged fires when a vehicle is saved, replaced, or deleted.
	EventVehicleChanged = "vehicle-change"
	// EventServiceLogChanged fires when a service log is written or removed.
	EventServiceLogChanged = "servicelog-change"
	// EventPendingChanged fires when the pending-save set gains or loses an entry.
	EventPendingChanged = "pending-change"

	eventHeartbeat = "heartbeat"
)

// FleetEvent notifies connected clients of a change inside one garage.
type FleetEvent struct {
	GarageID  string
	EventType string
	EntityIDs []string
	Timestamp time.Time
}

// EventDispatcher fans out fleet events to per-garage subscribers. Slow
// subscribers drop messages rather than block publishers.
type EventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan FleetEvent
}

// NewEventDispatcher constructs an empty dispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		subscribers: make(map[string]map[int64]*eventSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one garage. The returned cleanup is
// idempotent and also runs when ctx is cancelled.
func (d *EventDispatcher) Subscribe(ctx context.Context, garageID string) (<-chan FleetEvent, func()) {
	if garageID == "" {
		ch := make(chan FleetEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &eventSubscriber{
		id:     d.nextSequence(),
		stream: make(chan FleetEvent, d.bufferSize),
	}
	d.registerSubscriber(garageID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(garageID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to every subscriber of its garage.
func (d *EventDispatcher) Publish(event FleetEvent) {
	if event.GarageID == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.GarageID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*eventSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *EventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *EventDispatcher) registerSubscriber(garageID string, subscriber *eventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[garageID]; !ok {
		d.subscribers[garageID] = make(map[int64]*eventSubscriber)
	}
	d.subscribers[garageID][subscriber.id] = subscriber
}

func (d *EventDispatcher) unregisterSubscriber(garageID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[garageID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, garageID)
		}
	}
	d.mu.Unlock()
}
