package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter spaces successive operations at least one interval apart,
// incorporating optional jitter. The first Wait never blocks.
// It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	mu       sync.Mutex
	jitter   float64 // 0.0 to 1.0
	interval time.Duration
	last     time.Time
}

// NewLimiter creates a new limiter with the given requests per second (rps)
// and jitter factor. Jitter is clamped to [0.0, 1.0].
// If rps is <= 0, the limiter does not block.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	l := &Limiter{jitter: jitter}
	if rps > 0 {
		l.interval = time.Duration(float64(time.Second) / rps)
	}
	return l
}

// Wait blocks until it is time to perform the next operation, or until the
// context is canceled. Positive jitter extends the wait by up to
// jitter * interval.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	var delay time.Duration
	if !l.last.IsZero() {
		delay = time.Until(l.last.Add(l.interval))
		if delay > 0 && l.jitter > 0 {
			jitterFactor := rand.Float64() // 0.0 to 1.0
			delay += time.Duration(float64(l.interval) * l.jitter * jitterFactor)
		}
	}
	if delay < 0 {
		delay = 0
	}
	// Reserve the slot before releasing the lock so concurrent callers queue up.
	l.last = time.Now().Add(delay)
	l.mu.Unlock()

	return Sleep(ctx, delay)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
