// Package retry provides a bounded retry helper shared by the input image
// resolver and the generation client, so backoff policy is defined once.
package retry

import (
	"context"
	"time"
)

// Policy controls how Do re-invokes the operation.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// Backoff maps the just-failed attempt number (1-based) to a sleep
	// duration before the next attempt. Nil means no delay.
	Backoff func(attempt int) time.Duration
	// Retriable decides whether an error is worth another attempt. Nil means
	// every error is retriable within the attempt budget.
	Retriable func(err error) bool
}

// ExponentialBackoff returns a backoff function starting at base and doubling
// per attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base << (attempt - 1)
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// Do invokes fn until it succeeds, the policy is exhausted, an error is
// flagged non-retriable, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retriable != nil && !p.Retriable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.Backoff != nil {
			select {
			case <-time.After(p.Backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}
