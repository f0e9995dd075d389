package sink

import (
	"context"
	"math/rand"
	"time"
)

// backoff implements exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Sleep waits for the current backoff duration (±20% jitter) and increases
// it, returning early with the context's error if ctx is done.
func (b *backoff) Sleep(ctx context.Context) error {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	wait := time.Duration(float64(b.current) + jitter)

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset resets the backoff to the initial duration.
func (b *backoff) Reset() {
	b.current = b.initial
}
