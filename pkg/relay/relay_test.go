package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/logrelay/pkg/event"
	"github.com/bft-labs/logrelay/pkg/store"
)

// fakeSink records accepted batches and can fail the first N accepts.
type fakeSink struct {
	mu       sync.Mutex
	batches  [][]event.Event
	failures int
	flushErr error
	flushes  int
}

func (s *fakeSink) Accept(ctx context.Context, batch []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	cp := make([]event.Event, len(batch))
	copy(cp, batch)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *fakeSink) FlushPending(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return s.flushErr
}

func (s *fakeSink) Batches() [][]event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]event.Event, len(s.batches))
	copy(out, s.batches)
	return out
}

// blockingSink blocks its first Accept until release receives the result to
// return. Later accepts behave like fakeSink.
type blockingSink struct {
	fakeSink
	started chan struct{}
	release chan error
	first   sync.Once
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		started: make(chan struct{}),
		release: make(chan error),
	}
}

func (s *blockingSink) Accept(ctx context.Context, batch []event.Event) error {
	var blocked bool
	s.first.Do(func() { blocked = true })
	if blocked {
		close(s.started)
		if err := <-s.release; err != nil {
			return err
		}
	}
	return s.fakeSink.Accept(ctx, batch)
}

// fakeClock is a virtual clock: timers never fire on their own, only via
// fire().
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fire runs all currently pending timers and returns how many ran.
// Callbacks run outside the clock's lock so they may arm new timers.
func (c *fakeClock) fire() int {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()

	ran := 0
	for _, t := range timers {
		t.mu.Lock()
		runnable := !t.stopped && !t.fired
		t.fired = true
		t.mu.Unlock()
		if runnable {
			t.fn()
			ran++
		}
	}
	return ran
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped && !t.fired {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

func makeEvents(n int, prefix string) []event.Event {
	events := make([]event.Event, n)
	for i := range events {
		events[i] = event.Event{
			Timestamp: time.Unix(int64(1700000000+i), 0).UTC(),
			Level:     "info",
			Template:  fmt.Sprintf("%s-%d", prefix, i),
		}
	}
	return events
}

func templates(batch []event.Event) []string {
	out := make([]string, len(batch))
	for i, e := range batch {
		out[i] = e.Template
	}
	return out
}

func assertTemplates(t *testing.T, batch []event.Event, want []string) {
	t.Helper()
	got := templates(batch)
	if len(got) != len(want) {
		t.Fatalf("batch templates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch templates = %v, want %v", got, want)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative max batch size", Config{MaxBatchSize: -1}},
		{"namespace with path separator", Config{Namespace: "a/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestEmit_SingleCycleKeepsOrder(t *testing.T) {
	sink := &fakeSink{}
	r, err := New(Config{MaxBatchSize: 10, Period: PeriodDisabled}, WithSink(sink))
	if err != nil {
		t.Fatal(err)
	}

	in := makeEvents(3, "e")
	out := r.Emit(in)
	if len(out) != 3 {
		t.Errorf("Emit returned %d events, want the input back", len(out))
	}

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	batches := sink.Batches()
	if len(batches) != 1 {
		t.Fatalf("dispatched %d batches, want 1", len(batches))
	}
	assertTemplates(t, batches[0], []string{"e-0", "e-1", "e-2"})
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
}

func TestEmit_SplitsOversizedBurst(t *testing.T) {
	sink := &fakeSink{}
	r, err := New(Config{MaxBatchSize: 3, Period: PeriodDisabled}, WithSink(sink))
	if err != nil {
		t.Fatal(err)
	}

	r.Emit(makeEvents(5, "e"))
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	batches := sink.Batches()
	if len(batches) != 2 {
		t.Fatalf("dispatched %d batches, want 2", len(batches))
	}
	assertTemplates(t, batches[0], []string{"e-0", "e-1", "e-2"})
	assertTemplates(t, batches[1], []string{"e-3", "e-4"})
}

func TestEmit_BurstForcesMultipleCycles(t *testing.T) {
	sink := &fakeSink{}
	r, err := New(Config{MaxBatchSize: 3, Period: PeriodDisabled}, WithSink(sink))
	if err != nil {
		t.Fatal(err)
	}

	in := makeEvents(10, "e")
	r.Emit(in)
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// 3 fill the buffer, 7 overflow: ceil(7/3) = 3 forced cycles, plus the
	// flush for the final partial slice.
	batches := sink.Batches()
	if len(batches) != 4 {
		t.Fatalf("dispatched %d batches, want 4", len(batches))
	}
	var concat []event.Event
	for _, b := range batches {
		if len(b) > 3 {
			t.Errorf("batch of %d events exceeds max size 3", len(b))
		}
		concat = append(concat, b...)
	}
	assertTemplates(t, concat, templates(in))
}

func TestEmit_EmptyInput(t *testing.T) {
	sink := &fakeSink{}
	r, err := New(Config{Period: PeriodDisabled}, WithSink(sink))
	if err != nil {
		t.Fatal(err)
	}

	out := r.Emit(nil)
	if out != nil {
		t.Errorf("Emit(nil) = %v, want nil", out)
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(sink.Batches()) != 0 {
		t.Errorf("dispatched %d batches, want 0", len(sink.Batches()))
	}
}

func TestStop_Idempotent(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	r, err := New(Config{Period: 5 * time.Second}, WithSink(sink), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	if clock.pendingTimers() != 1 {
		t.Fatalf("pending timers after New = %d, want 1", clock.pendingTimers())
	}
	if r.State() != TimerScheduled {
		t.Fatalf("State = %v, want Scheduled", r.State())
	}

	r.Stop()
	r.Stop()

	if r.State() != TimerHalted {
		t.Errorf("State = %v, want Halted", r.State())
	}
	if clock.pendingTimers() != 0 {
		t.Errorf("pending timers after Stop = %d, want 0", clock.pendingTimers())
	}

	// Nothing fires after Stop, and no timer is ever rearmed.
	r.Emit(makeEvents(2, "e"))
	if ran := clock.fire(); ran != 0 {
		t.Errorf("%d timers fired after Stop, want 0", ran)
	}
	if len(sink.Batches()) != 0 {
		t.Errorf("dispatched %d batches after Stop, want 0", len(sink.Batches()))
	}

	// The buffer is still usable for explicit flushes.
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after Stop: %v", err)
	}
	batches := sink.Batches()
	if len(batches) != 1 {
		t.Fatalf("dispatched %d batches, want 1", len(batches))
	}
	assertTemplates(t, batches[0], []string{"e-0", "e-1"})
	if clock.pendingTimers() != 0 {
		t.Errorf("flush after Stop rearmed the timer")
	}
}

func TestTimer_CyclesAndRearms(t *testing.T) {
	clock := newFakeClock()
	sink := &fakeSink{}
	r, err := New(Config{Period: 5 * time.Second}, WithSink(sink), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	// A tick with an empty buffer dispatches nothing but rearms.
	if ran := clock.fire(); ran != 1 {
		t.Fatalf("%d timers fired, want 1", ran)
	}
	if len(sink.Batches()) != 0 {
		t.Errorf("empty tick dispatched %d batches", len(sink.Batches()))
	}
	if clock.pendingTimers() != 1 {
		t.Fatalf("pending timers after empty tick = %d, want 1", clock.pendingTimers())
	}

	r.Emit(makeEvents(2, "e"))
	if ran := clock.fire(); ran != 1 {
		t.Fatalf("%d timers fired, want 1", ran)
	}
	waitFor(t, "batch dispatch", func() bool { return len(sink.Batches()) == 1 })
	assertTemplates(t, sink.Batches()[0], []string{"e-0", "e-1"})
	if clock.pendingTimers() != 1 {
		t.Errorf("pending timers after tick = %d, want 1", clock.pendingTimers())
	}
}

func TestRehydrate_RecoversStagedEntries(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	stage := func(key string, events []event.Event) {
		data, err := event.EncodeBatch(events)
		if err != nil {
			t.Fatal(err)
		}
		if err := st.Set(ctx, key, data); err != nil {
			t.Fatal(err)
		}
	}
	stage("ns-100", makeEvents(2, "a"))
	stage("ns-101", makeEvents(1, "b"))
	stage("other-1", makeEvents(1, "x")) // foreign entry, must be untouched

	sink := &fakeSink{}
	r, err := New(Config{MaxBatchSize: 10, Period: PeriodDisabled, Namespace: "ns"},
		WithSink(sink), WithStore(st))
	if err != nil {
		t.Fatal(err)
	}

	if r.Pending() != 3 {
		t.Errorf("Pending = %d, want 3", r.Pending())
	}
	for _, key := range []string{"ns-100", "ns-101"} {
		data, err := st.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if data != nil {
			t.Errorf("consumed entry %s still in store", key)
		}
	}
	if data, _ := st.Get(ctx, "other-1"); data == nil {
		t.Error("foreign entry other-1 was removed")
	}

	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	batches := sink.Batches()
	if len(batches) != 1 {
		t.Fatalf("dispatched %d batches, want 1", len(batches))
	}
	assertTemplates(t, batches[0], []string{"a-0", "a-1", "b-0"})
}

func TestRehydrate_DropsMalformedEntry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	_ = st.Set(ctx, "ns-100", []byte("{corrupt"))

	good, err := event.EncodeBatch(makeEvents(1, "a"))
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Set(ctx, "ns-101", good)

	r, err := New(Config{MaxBatchSize: 10, Period: PeriodDisabled, Namespace: "ns"},
		WithStore(st))
	if err != nil {
		t.Fatal(err)
	}

	if r.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", r.Pending())
	}
	if data, _ := st.Get(ctx, "ns-100"); data != nil {
		t.Error("malformed entry was not removed")
	}
}

func TestDispatchFailure_RequeuesAndKeepsDurableEntry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sink := &fakeSink{failures: 1}
	r, err := New(Config{MaxBatchSize: 10, Period: PeriodDisabled, Namespace: "ns"},
		WithSink(sink), WithStore(st))
	if err != nil {
		t.Fatal(err)
	}

	r.Emit(makeEvents(2, "e"))
	staleKeys, err := st.Keys(ctx, "ns-")
	if err != nil {
		t.Fatal(err)
	}
	if len(staleKeys) != 1 {
		t.Fatalf("store holds %d entries before flush, want 1", len(staleKeys))
	}
	staleKey := staleKeys[0]

	// First flush: the dispatch fails, the snapshot is requeued, and the
	// durable entry for the dispatched key stays.
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(sink.Batches()) != 0 {
		t.Fatalf("failed dispatch recorded %d batches", len(sink.Batches()))
	}
	if r.Pending() != 2 {
		t.Errorf("Pending after failure = %d, want 2", r.Pending())
	}
	if data, _ := st.Get(ctx, staleKey); data == nil {
		t.Errorf("durable entry %s removed despite dispatch failure", staleKey)
	}
	if st.Len() != 2 {
		t.Errorf("store holds %d entries after failure, want stale + active", st.Len())
	}

	// Second flush: delivery succeeds exactly once, in order.
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	batches := sink.Batches()
	if len(batches) != 1 {
		t.Fatalf("dispatched %d batches, want 1", len(batches))
	}
	assertTemplates(t, batches[0], []string{"e-0", "e-1"})
	if r.Pending() != 0 {
		t.Errorf("Pending after retry = %d, want 0", r.Pending())
	}
}

func TestDispatchFailure_RetriedEventsGoAheadOfNewer(t *testing.T) {
	sink := newBlockingSink()
	r, err := New(Config{MaxBatchSize: 10, Period: PeriodDisabled}, WithSink(sink))
	if err != nil {
		t.Fatal(err)
	}

	old := makeEvents(1, "old")
	r.Emit(old)
	go func() { _ = r.Flush(context.Background()) }()
	<-sink.started

	// Newer events arrive while the old snapshot is still in flight.
	r.Emit(makeEvents(1, "new"))

	sink.release <- errors.New("sink unavailable")
	waitFor(t, "requeue of failed snapshot", func() bool { return r.Pending() == 2 })

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	batches := sink.Batches()
	if len(batches) != 1 {
		t.Fatalf("dispatched %d batches, want 1", len(batches))
	}
	assertTemplates(t, batches[0], []string{"old-0", "new-0"})
}

func TestEmit_MirrorsBufferToStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	r, err := New(Config{MaxBatchSize: 10, Period: PeriodDisabled, Namespace: "ns"},
		WithStore(st))
	if err != nil {
		t.Fatal(err)
	}

	r.Emit(makeEvents(1, "a"))
	r.Emit(makeEvents(1, "b"))

	keys, err := st.Keys(ctx, "ns-")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("store holds %d entries, want 1", len(keys))
	}

	data, err := st.Get(ctx, keys[0])
	if err != nil {
		t.Fatal(err)
	}
	events, err := event.DecodeBatch(data)
	if err != nil {
		t.Fatalf("decode mirrored snapshot: %v", err)
	}
	assertTemplates(t, events, []string{"a-0", "b-0"})
}

func TestFlush_NoSinkResolvesImmediately(t *testing.T) {
	r, err := New(Config{Period: PeriodDisabled})
	if err != nil {
		t.Fatal(err)
	}
	r.Emit(makeEvents(2, "e"))
	if err := r.Flush(context.Background()); err != nil {
		t.Errorf("Flush = %v, want nil", err)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", r.Pending())
	}
}

func TestFlush_PropagatesSinkFlushError(t *testing.T) {
	sinkErr := errors.New("downstream flush failed")
	sink := &fakeSink{flushErr: sinkErr}
	r, err := New(Config{Period: PeriodDisabled}, WithSink(sink))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Flush(context.Background()); !errors.Is(err, sinkErr) {
		t.Errorf("Flush = %v, want %v", err, sinkErr)
	}
}

func TestFlush_ContextCancellation(t *testing.T) {
	sink := newBlockingSink()
	r, err := New(Config{Period: PeriodDisabled}, WithSink(sink))
	if err != nil {
		t.Fatal(err)
	}
	r.Emit(makeEvents(1, "e"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Flush(ctx) }()
	<-sink.started

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Flush = %v, want context.Canceled", err)
	}
	sink.release <- nil // unblock the in-flight dispatch
}

func TestHooks_DispatchOutcomes(t *testing.T) {
	var (
		mu        sync.Mutex
		delivered []int
		failed    []int
	)
	sink := &fakeSink{failures: 1}
	r, err := New(Config{Period: PeriodDisabled},
		WithSink(sink),
		WithHooks(Hooks{
			OnDispatch: func(count int) {
				mu.Lock()
				delivered = append(delivered, count)
				mu.Unlock()
			},
			OnDispatchError: func(err error, count int) {
				mu.Lock()
				failed = append(failed, count)
				mu.Unlock()
			},
		}))
	if err != nil {
		t.Fatal(err)
	}

	r.Emit(makeEvents(2, "e"))
	_ = r.Flush(context.Background())
	_ = r.Flush(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || failed[0] != 2 {
		t.Errorf("OnDispatchError calls = %v, want [2]", failed)
	}
	if len(delivered) != 1 || delivered[0] != 2 {
		t.Errorf("OnDispatch calls = %v, want [2]", delivered)
	}
}
