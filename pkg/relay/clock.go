package relay

import "time"

// Clock abstracts the time source so the cycle timer can be driven by a
// virtual clock in tests instead of wall-clock waits.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules fn to run after d and returns the pending timer.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending scheduled callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was
	// already stopped.
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{time.AfterFunc(d, fn)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Stop() bool { return s.t.Stop() }
