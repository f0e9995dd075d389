package relay

import "github.com/bft-labs/logrelay/pkg/event"

// buffer is the active batch: the ordered pending events plus the key of the
// durable-store entry currently mirroring them. It is owned exclusively by
// the Relay and only ever mutated under the Relay's lock.
type buffer struct {
	key    string
	events []event.Event
}

// append adds events to the tail of the buffer in call order.
func (b *buffer) append(events ...event.Event) {
	b.events = append(b.events, events...)
}

// prepend inserts events ahead of everything currently buffered. Used to
// requeue a failed dispatch for retry on the next cycle.
func (b *buffer) prepend(events []event.Event) {
	merged := make([]event.Event, 0, len(events)+len(b.events))
	merged = append(merged, events...)
	merged = append(merged, b.events...)
	b.events = merged
}

// drain returns the buffered events and resets the buffer to empty in place.
func (b *buffer) drain() []event.Event {
	snapshot := b.events
	b.events = nil
	return snapshot
}

// len returns the number of buffered events.
func (b *buffer) len() int { return len(b.events) }

// empty reports whether the buffer holds no events.
func (b *buffer) empty() bool { return len(b.events) == 0 }
