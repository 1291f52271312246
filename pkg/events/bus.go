// Package events carries engine notifications to the UI layer so it can
// render message, connection and error state without polling engine
// internals.
package events

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed Bus.
var ErrBusClosed = errors.New("event bus closed")

// Bus is a buffered fan-in of engine events with a single consumer.
type Bus struct {
	events chan Event
	done   chan struct{}
	closed atomic.Bool
}

// NewBus creates a Bus with a bounded buffer.
func NewBus() *Bus {
	return &Bus{
		events: make(chan Event, 100),
		done:   make(chan struct{}),
	}
}

// Publish delivers an event, blocking until there is buffer space, the bus
// closes or the context is cancelled.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	select {
	case b.events <- ev:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish delivers an event without blocking. A full buffer drops the
// event; notifications are advisory and the store remains the source of
// truth for anything dropped.
func (b *Bus) TryPublish(ev Event) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	default:
		return false
	}
}

// Consume blocks for the next event. The second return is false once the bus
// is closed or the context is cancelled.
func (b *Bus) Consume(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-b.events:
		return ev, ok
	case <-b.done:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close shuts the bus down. Pending events are discarded.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
}
