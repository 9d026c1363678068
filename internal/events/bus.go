package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(HealthChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case AcquisitionStateEvent:
		event.Publish(b.dispatcher, e)
	case SessionOpenedEvent:
		event.Publish(b.dispatcher, e)
	case GrabStreakEvent:
		event.Publish(b.dispatcher, e)
	case WorkerStateEvent:
		event.Publish(b.dispatcher, e)
	case HealthChangedEvent:
		event.Publish(b.dispatcher, e)
	case ParametersChangedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e HealthChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(AcquisitionStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionOpenedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(GrabStreakEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(HealthChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ParametersChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
