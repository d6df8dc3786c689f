package engine

import (
	"sync"
	"time"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Tag events
	EventTagAdded EventType = iota + 1
	EventTagUpdated
	EventTagRemoved
	EventTagWritten

	// Server events
	EventServerStarted
	EventServerStopped

	// Publisher events
	EventPublishersStarted
	EventPublishersStopped
)

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// TagEvent is the payload for tag events.
type TagEvent struct {
	ID   uint16
	Name string
}

// ServiceEvent is the payload for server/publisher lifecycle events.
type ServiceEvent struct {
	Name string
}

// SubscriberID identifies a registered event listener.
type SubscriberID int

// EventBus delivers engine events to registered subscribers. Delivery is
// synchronous in emit order.
type EventBus struct {
	mu     sync.RWMutex
	nextID SubscriberID
	subs   map[SubscriberID]subscriber
}

type subscriber struct {
	fn    func(Event)
	types map[EventType]bool // nil = all types
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[SubscriberID]subscriber),
	}
}

// Subscribe registers a listener for every event. It returns an id for
// Unsubscribe.
func (b *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return b.subscribe(fn, nil)
}

// SubscribeTypes registers a listener for the given event types only.
func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	return b.subscribe(fn, filter)
}

func (b *EventBus) subscribe(fn func(Event), types map[EventType]bool) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{fn: fn, types: types}
	return id
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (b *EventBus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Emit delivers an event to every matching subscriber. The timestamp is
// stamped here if the caller left it zero.
func (b *EventBus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types == nil || s.types[e.Type] {
			s.fn(e)
		}
	}
}
