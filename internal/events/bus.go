package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for in-process event fan-out.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(PipelineFaultEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event's generic Publish needs the concrete type.
	switch e := ev.(type) {
	case DeviceResolvedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineStateEvent:
		event.Publish(b.dispatcher, e)
	case PipelineFaultEvent:
		event.Publish(b.dispatcher, e)
	case DeviceHotplugEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a handler; the handler's parameter type selects the
// event stream. Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e PipelineFaultEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(DeviceResolvedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineFaultEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceHotplugEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// SubscribeToChannel forwards events of type T into ch without blocking;
// events are dropped when the channel is full.
func SubscribeToChannel[T Event](b *Bus, ch chan<- any) func() {
	return event.Subscribe(b.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
