package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff hands out exponentially growing, randomized retry delays.
// It is not safe for concurrent use.
type Backoff struct {
	exp *backoff.ExponentialBackOff
}

// BackoffConfig tunes a Backoff. Zero values fall back to defaults.
type BackoffConfig struct {
	Initial    time.Duration // default 500ms
	Max        time.Duration // default 30s
	Multiplier float64       // default 2
	// Randomization spreads each delay by +/- this fraction; default 0.2.
	// Negative disables randomization.
	Randomization float64
}

// NewBackoff creates a Backoff positioned at its first delay.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = 500 * time.Millisecond
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	switch {
	case cfg.Randomization < 0:
		cfg.Randomization = 0
	case cfg.Randomization == 0:
		cfg.Randomization = 0.2
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.Initial
	exp.MaxInterval = cfg.Max
	exp.Multiplier = cfg.Multiplier
	exp.RandomizationFactor = cfg.Randomization
	exp.MaxElapsedTime = 0 // attempts are bounded by the caller
	exp.Reset()

	return &Backoff{exp: exp}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := b.exp.NextBackOff()
	if d == backoff.Stop {
		return b.exp.MaxInterval
	}
	return d
}

// Reset rewinds the sequence to the initial delay.
func (b *Backoff) Reset() { b.exp.Reset() }

// Header names used by the provider to announce when a rate-limit window resets.
const (
	HeaderRateLimitReset = "X-Rate-Limit-Reset"
	HeaderRetryAfter     = "Retry-After"
)

// ResetDelay derives how long to wait from rate-limit response headers.
// X-Rate-Limit-Reset carries a unix timestamp in seconds; Retry-After carries
// either a number of seconds or an HTTP date. ok is false when neither header
// is usable. A reset time in the past yields a zero delay.
func ResetDelay(h http.Header, now time.Time) (d time.Duration, ok bool) {
	if v := strings.TrimSpace(h.Get(HeaderRateLimitReset)); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			return nonNegative(time.Unix(sec, 0).Sub(now)), true
		}
	}
	if v := strings.TrimSpace(h.Get(HeaderRetryAfter)); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			return secondsDelay(sec), true
		}
		if at, err := http.ParseTime(v); err == nil {
			return nonNegative(at.Sub(now)), true
		}
	}
	return 0, false
}

// secondsDelay converts a Retry-After count, saturating instead of wrapping.
func secondsDelay(sec int64) time.Duration {
	switch {
	case sec <= 0:
		return 0
	case sec > int64(math.MaxInt64/time.Second):
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(sec) * time.Second
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
