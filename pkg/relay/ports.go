package relay

import (
	"context"

	"github.com/bft-labs/logrelay/pkg/event"
)

// Sink is the downstream consumer of dispatched batches.
//
// Accept receives one batch per cycle and may fail; a failed batch is
// requeued into the active buffer for the next cycle. FlushPending is the
// sink-level "finish outstanding work" contract, distinct from per-batch
// acceptance; sinks that deliver synchronously from Accept can return nil.
type Sink interface {
	// Accept transmits a batch of events downstream.
	Accept(ctx context.Context, batch []event.Event) error

	// FlushPending completes any work the sink has buffered internally.
	FlushPending(ctx context.Context) error
}

// Store is a durable key-value capability used to stage unsent events
// across process restarts. Implementations persist opaque snapshots; the
// relay owns the serialized form.
type Store interface {
	// Keys returns all keys beginning with prefix, in any order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Get returns the value for key, or (nil, nil) if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value for key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes the entry for key. Removing an absent key is not
	// an error.
	Remove(ctx context.Context, key string) error
}

// discardSink is installed when no sink is configured. Batches are accepted
// and dropped so that cycling still empties the buffer.
type discardSink struct{}

func (discardSink) Accept(context.Context, []event.Event) error { return nil }

func (discardSink) FlushPending(context.Context) error { return nil }
