// Package retry provides the bounded backoff policy shared by the catalog
// client and the download engine. Call sites parameterize the policy; the
// package itself never decides what is worth retrying beyond the
// Permanent marker.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// Jitter is the fraction of the delay randomized on each wait, 0..1.
	Jitter float64
}

// DefaultMultiplier doubles the delay each attempt, matching the backoff
// the platform's rate limiting tolerates.
const DefaultMultiplier = 2.0

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable; Do stops immediately and returns
// the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent marker. Callers
// that wrap exhaustion separately use it to tell a single-attempt stop
// from a spent retry budget.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It stops
// early when fn succeeds, returns a Permanent error, or ctx is done. The
// returned error is the last one fn produced (unwrapped from Permanent).
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = DefaultMultiplier
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
