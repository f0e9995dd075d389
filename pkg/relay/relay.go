package relay

import (
	"context"
	"sync"

	"github.com/bft-labs/logrelay/pkg/event"
	"github.com/bft-labs/logrelay/pkg/log"
)

// TimerState is the state of the relay's recurring cycle timer.
type TimerState int

const (
	// TimerIdle means no timer is armed (periodic cycling disabled).
	TimerIdle TimerState = iota

	// TimerScheduled means a cycle is pending on the timer.
	TimerScheduled

	// TimerHalted is the terminal state entered by Stop. No timer fires
	// after it; the buffer remains usable for explicit flushes.
	TimerHalted
)

// String returns a human-readable representation of the state.
func (s TimerState) String() string {
	switch s {
	case TimerIdle:
		return "Idle"
	case TimerScheduled:
		return "Scheduled"
	case TimerHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// Relay buffers log events and releases them downstream in bounded,
// time- or size-triggered batches. Unsent events are optionally staged in a
// durable store so they survive process restarts between delivery cycles.
//
// Producers call Emit at arbitrary rates; a recurring timer independently
// swaps the buffer out and hands its contents to the sink, so producers are
// never blocked by delivery. Use New to create an instance.
type Relay struct {
	cfg    Config
	sink   Sink
	store  Store
	logger log.Logger
	clock  Clock
	hooks  Hooks

	mu           sync.Mutex
	buf          buffer
	keys         keyGen
	timer        Timer
	state        TimerState
	lastDispatch chan struct{}
	inflight     sync.WaitGroup
}

// New creates a Relay with the given configuration.
//
// If a durable store is configured, entries left by a previous process
// lifetime under the relay's namespace are recovered into the fresh buffer
// (subject to the usual split-on-overflow rule) and removed from the store.
// The cycle timer is armed before New returns.
func New(cfg Config, opts ...Option) (*Relay, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.sink == nil {
		o.sink = discardSink{}
	}

	r := &Relay{
		cfg:    cfg,
		sink:   o.sink,
		store:  o.store,
		logger: o.logger,
		clock:  o.clock,
		hooks:  o.hooks,
		keys:   keyGen{namespace: cfg.Namespace},
	}

	r.mu.Lock()
	r.buf.key = r.keys.next(r.clock.Now())
	if r.store != nil {
		r.rehydrateLocked()
	}
	r.armLocked()
	r.mu.Unlock()

	return r, nil
}

// Emit appends events to the active buffer and returns the input unchanged
// for chaining. It never fails: a burst larger than the remaining batch
// capacity is consumed in slices, forcing a cycle between slices, so that no
// dispatched batch ever exceeds MaxBatchSize.
//
// Each append re-mirrors the full buffer snapshot to the durable store under
// the buffer's current key.
func (r *Relay) Emit(events []event.Event) []event.Event {
	if len(events) == 0 {
		return events
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(events)
	return events
}

func (r *Relay) emitLocked(events []event.Event) {
	room := r.cfg.MaxBatchSize - r.buf.len()
	if len(events) <= room {
		r.buf.append(events...)
		r.mirrorLocked()
		return
	}

	// Fill the buffer to capacity, then cycle and refill until the burst
	// is consumed.
	if room > 0 {
		r.buf.append(events[:room]...)
		r.mirrorLocked()
		events = events[room:]
	}
	for len(events) > 0 {
		r.cycleLocked()
		n := min(r.cfg.MaxBatchSize, len(events))
		r.buf.append(events[:n]...)
		r.mirrorLocked()
		events = events[n:]
	}
}

// Flush forces an immediate cycle, waits for every outstanding dispatch to
// settle, then asks the sink to finish its pending work. The sink's flush
// outcome (or the context's cancellation) is the only error channel the
// relay exposes.
func (r *Relay) Flush(ctx context.Context) error {
	r.mu.Lock()
	r.cycleLocked()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return r.sink.FlushPending(ctx)
}

// Stop halts the recurring cycle timer. It is idempotent and does not drain
// the buffer: callers needing final delivery must Flush first. In-flight
// dispatches are not cancelled; their completion handlers still run, and the
// buffer stays usable for explicit flushes.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state = TimerHalted
}

// State returns the current timer state.
func (r *Relay) State() TimerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending returns the number of events currently buffered.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.len()
}

// onTick is the recurring timer callback.
func (r *Relay) onTick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == TimerHalted {
		return
	}
	r.cycleLocked()
}

// cycleLocked performs one drain-and-replace cycle: the buffered events are
// snapshot and handed to the sink asynchronously, the buffer is reset in
// place under a fresh key, and the timer is rearmed.
func (r *Relay) cycleLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	if !r.buf.empty() {
		snapshot := r.buf.drain()
		r.dispatchLocked(snapshot, r.buf.key)
	}

	r.buf.key = r.keys.next(r.clock.Now())
	r.armLocked()
}

// armLocked schedules the next timer cycle unless halted, disabled, or
// already armed.
func (r *Relay) armLocked() {
	if r.state == TimerHalted || r.timer != nil {
		return
	}
	if r.cfg.Period <= 0 {
		r.state = TimerIdle
		return
	}
	r.timer = r.clock.AfterFunc(r.cfg.Period, r.onTick)
	r.state = TimerScheduled
}

// dispatchLocked hands a snapshot to the sink without blocking the caller.
// Dispatches are chained so batches reach the sink in cycle order, and each
// completion re-enters the engine's mutation path under the lock.
func (r *Relay) dispatchLocked(batch []event.Event, key string) {
	prev := r.lastDispatch
	done := make(chan struct{})
	r.lastDispatch = done
	r.inflight.Add(1)

	go func() {
		defer close(done)
		defer r.inflight.Done()
		if prev != nil {
			<-prev
		}
		err := r.sink.Accept(context.Background(), batch)
		r.settle(batch, key, err)
	}()
}

// settle handles the outcome of one asynchronous dispatch.
func (r *Relay) settle(batch []event.Event, key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		// Best-effort retry: the snapshot goes back to the front of
		// whatever buffer is active now, ahead of any newer events.
		// The durable entry under the old key stays until a later
		// dispatch of these events succeeds.
		r.logger.Warn("batch dispatch failed, requeueing",
			log.Int("events", len(batch)),
			log.String("key", key),
			log.Err(err))
		r.buf.prepend(batch)
		r.mirrorLocked()
		if r.hooks.OnDispatchError != nil {
			r.hooks.OnDispatchError(err, len(batch))
		}
		return
	}

	if r.store != nil {
		if rerr := r.store.Remove(context.Background(), key); rerr != nil {
			r.logger.Error("durable store remove failed",
				log.String("key", key),
				log.Err(rerr))
		}
	}
	r.logger.Debug("batch dispatched",
		log.Int("events", len(batch)),
		log.String("key", key))
	if r.hooks.OnDispatch != nil {
		r.hooks.OnDispatch(len(batch))
	}
}

// mirrorLocked writes the full current buffer snapshot to the durable store
// under the buffer's key. Store failures degrade durability, not operation:
// they are logged and cycling continues.
func (r *Relay) mirrorLocked() {
	if r.store == nil {
		return
	}
	data, err := event.EncodeBatch(r.buf.events)
	if err != nil {
		r.logger.Error("encode buffer snapshot failed", log.Err(err))
		return
	}
	if err := r.store.Set(context.Background(), r.buf.key, data); err != nil {
		r.logger.Error("durable store write failed",
			log.String("key", r.buf.key),
			log.Err(err))
	}
}

// rehydrateLocked recovers durable entries left under the relay's namespace
// by a previous process lifetime. Entries are consumed exactly once: each is
// decoded, removed from the store, and the concatenation is fed through the
// same path as Emit. Malformed entries are dropped.
func (r *Relay) rehydrateLocked() {
	ctx := context.Background()

	keys, err := r.store.Keys(ctx, r.keys.prefix())
	if err != nil {
		r.logger.Error("durable store scan failed", log.Err(err))
		return
	}

	var recovered []event.Event
	for _, key := range keys {
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			r.logger.Error("durable store read failed",
				log.String("key", key),
				log.Err(err))
			continue
		}
		if raw != nil {
			events, err := event.DecodeBatch(raw)
			if err != nil {
				r.logger.Warn("dropping malformed durable entry",
					log.String("key", key),
					log.Err(err))
			} else {
				recovered = append(recovered, events...)
			}
		}
		if err := r.store.Remove(ctx, key); err != nil {
			r.logger.Error("durable store remove failed",
				log.String("key", key),
				log.Err(err))
		}
	}

	if len(recovered) > 0 {
		r.logger.Info("recovered staged events",
			log.Int("events", len(recovered)),
			log.Int("entries", len(keys)))
		r.emitLocked(recovered)
	}
}
