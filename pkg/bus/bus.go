package bus

import (
	eventbus "github.com/asaskevich/EventBus"
)

type Subscriber interface {
	Subscribe(topic string, fn any) error
	Unsubscribe(topic string, handler any) error
}

type Publisher interface {
	Publish(topic string, args ...any)
}

type Bus interface {
	Subscriber
	Publisher
}

// New returns a synchronous bus: handlers run on the publishing goroutine.
func New() Bus {
	return &EventBus{eventbus.New()}
}

type EventBus struct {
	bus eventbus.Bus
}

func (e *EventBus) Publish(topic string, args ...any) {
	e.bus.Publish(topic, args...)
}

func (e *EventBus) Subscribe(topic string, handler any) error {
	return e.bus.Subscribe(topic, handler)
}

// SubscribeAsync runs handler on its own goroutine, one event at a time.
func (e *EventBus) SubscribeAsync(topic string, handler any) error {
	return e.bus.SubscribeAsync(topic, handler, true)
}

func (e *EventBus) Unsubscribe(topic string, handler any) error {
	return e.bus.Unsubscribe(topic, handler)
}

// WaitAsync blocks until every async handler has drained its events.
func (e *EventBus) WaitAsync() {
	e.bus.WaitAsync()
}

type NoopBus struct{}

func (NoopBus) Publish(topic string, args ...any)           {}
func (NoopBus) Subscribe(topic string, handler any) error   { return nil }
func (NoopBus) Unsubscribe(topic string, handler any) error { return nil }
