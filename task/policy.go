package task

import (
	"math/rand"
	"time"
)

// RetryBackoff configures the delay between retry attempts for a failing
// step. When nil, retries happen immediately.
//
// The delay for attempt n is min(BaseDelay * 2^n, MaxDelay) plus a random
// jitter in [0, BaseDelay) to avoid synchronized retries.
type RetryBackoff struct {
	// BaseDelay is the base delay for exponential backoff. Must be > 0.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means uncapped.
	MaxDelay time.Duration
}

// Validate checks the backoff configuration.
func (b *RetryBackoff) Validate() error {
	if b.BaseDelay <= 0 {
		return ErrInvalidBackoff
	}
	if b.MaxDelay > 0 && b.MaxDelay < b.BaseDelay {
		return ErrInvalidBackoff
	}
	return nil
}

// computeBackoff calculates the delay before retrying a failed step.
//
// attempt is zero-based (0 = first retry). The exponential component is
// capped at maxDelay when set; jitter is drawn from [0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	// Clamp the shift so large attempt counts can't overflow.
	if attempt > 30 {
		attempt = 30
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return delay + jitter
}
