// Package backoff implements the jittered exponential delay used when
// retrying transient provider failures.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy shapes the delay curve between attempts.
type Policy struct {
	// Initial is the delay after the first failure.
	// Default: 100ms
	Initial time.Duration

	// Max caps the delay regardless of attempt count.
	// Default: 30s
	Max time.Duration

	// Factor multiplies the delay on each further failure.
	// Default: 2
	Factor float64

	// Jitter is the fraction of the base delay added at random so
	// synchronized clients spread out.
	// Default: 0.1
	Jitter float64
}

// DefaultPolicy is the curve the provider adapters retry with.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

func sanitizePolicy(p Policy) Policy {
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 30 * time.Second
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the sleep after the given failed attempt. Attempts are
// 1-indexed.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

// delay takes the random jitter fraction as an argument so tests are
// deterministic.
func (p Policy) delay(attempt int, random float64) time.Duration {
	p = sanitizePolicy(p)
	base := float64(p.Initial) * math.Pow(p.Factor, math.Max(float64(attempt-1), 0))
	d := time.Duration(base + base*p.Jitter*random)
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Sleep waits out the policy's delay for the given failed attempt,
// returning ctx.Err() when cancelled first.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn until it succeeds, fails unretryably, or spends
// maxAttempts. retryable classifies errors between attempts; a nil
// predicate retries everything. The last error observed is returned
// when attempts run out or the wait is cancelled, since it says more
// about the failure than the cancellation does.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if err := policy.Sleep(ctx, attempt); err != nil {
				return zero, lastErr
			}
		}
	}
	return zero, lastErr
}
