package bus

import (
	"context"
	"time"
)

// Backoff is the reconnect policy shared by the ingest and emit
// adapters: exponential from Base up to Cap for MaxAttempts consecutive
// failures, then one CoolOff pause and the counter restarts. The
// zero-value is not usable; take DefaultBackoff.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	CoolOff     time.Duration

	attempt int
}

// DefaultBackoff returns the standard policy: 2s base, 15s cap, 10
// attempts per burst, 10s cool-off.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Base:        2 * time.Second,
		Cap:         15 * time.Second,
		MaxAttempts: 10,
		CoolOff:     10 * time.Second,
	}
}

// NextDelay records one more failure and returns how long to wait
// before the next attempt.
func (b *Backoff) NextDelay() time.Duration {
	b.attempt++
	if b.attempt > b.MaxAttempts {
		b.attempt = 0
		return b.CoolOff
	}

	d := b.Base
	for i := 1; i < b.attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		d = b.Cap
	}
	return d
}

// Reset clears the failure counter after a successful operation.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of consecutive failures in this burst.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Wait sleeps for the next delay or until ctx is done, whichever comes
// first. Returns ctx.Err() when cancelled.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.NextDelay())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
