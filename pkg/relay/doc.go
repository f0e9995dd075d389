// Package relay implements a durable batching relay for log events.
//
// A Relay decouples producers emitting log events continuously from a
// downstream transport that is cheaper to call with fewer, larger batches.
// Events accumulate in an in-memory buffer; a recurring timer (or an
// explicit Flush) atomically swaps the buffer out, hands the snapshot to the
// configured Sink, and replaces it with a fresh empty buffer so producers
// are never blocked by delivery.
//
// # Batching
//
// A dispatched batch never exceeds Config.MaxBatchSize. An Emit call whose
// events would overflow the buffer is consumed in slices, forcing an
// immediate cycle between slices, so oversized bursts degrade to multiple
// cycles rather than failing.
//
// # Durability
//
// With a Store configured, the buffer is mirrored to a durable entry keyed
// <namespace>-<timestamp> after every mutation. Entries are removed once the
// corresponding batch is accepted downstream, and entries left behind by a
// crash are recovered exactly once on construction. Delivery remains
// best-effort: a batch whose dispatch fails is requeued at the front of the
// active buffer for the next cycle.
//
// # Usage
//
//	r, err := relay.New(relay.Config{MaxBatchSize: 50, Period: 2 * time.Second},
//	    relay.WithSink(mySink),
//	    relay.WithStore(store.NewFile("/var/lib/myapp/staging")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r.Emit(events)
//	// ... on shutdown:
//	if err := r.Flush(ctx); err != nil {
//	    log.Printf("flush: %v", err)
//	}
//	r.Stop()
package relay
