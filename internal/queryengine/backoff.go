package queryengine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default bounds for the retry loop's backoff: base 100ms, cap 1 minute,
// doubling between attempts.
const (
	defaultBackoffBase = 100 * time.Millisecond
	defaultBackoffCap  = 1 * time.Minute
)

// BackoffCalculator computes the delay to wait before retry attempt n
// (0-indexed: n is the number of attempts already made). The delay's
// distribution depends only on n, but it is not deterministic: calling it
// twice with the same n returns independently jittered delays.
type BackoffCalculator func(attempt int) time.Duration

// NewBackoffCalculator builds a BackoffCalculator using
// cenkalti/backoff/v4's exponential backoff with jitter. Each call
// re-derives the delay for attempt n by constructing a fresh exponential
// backoff and advancing it n+1 times, so the result depends on n and not
// on call history: min(base*2^n, cap) with up to 50% random jitter either
// way, never more than cap.
func NewBackoffCalculator(base, cap time.Duration) BackoffCalculator {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}

	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}

		eb := backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(base),
			backoff.WithMaxInterval(cap),
			backoff.WithMultiplier(2),
			backoff.WithMaxElapsedTime(0),
		)
		eb.Reset()

		var d time.Duration
		for i := 0; i <= attempt; i++ {
			d = eb.NextBackOff()
		}

		if d > cap {
			d = cap
		}

		return d
	}
}

// DefaultBackoffCalculator is the base=100ms/cap=1m calculator used by the
// retry loop unless a caller overrides it (tests do, to make retry timing
// deterministic).
func DefaultBackoffCalculator() BackoffCalculator {
	return NewBackoffCalculator(defaultBackoffBase, defaultBackoffCap)
}
