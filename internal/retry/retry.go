// Package retry runs outbound backend calls with bounded exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy configures Do. It has no identity and is safe to copy.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// OnRetry is called after a failed attempt that will be retried,
	// before the backoff sleep. Returning a non-nil error stops retrying
	// and Do returns that error.
	OnRetry func(attempt int, err error) error

	// Clock defaults to the wall clock.
	Clock Clock
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative, got %s", p.InitialDelay)
	}
	if p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay)
	}
	return nil
}

// Delay returns the backoff before retrying after the given 1-indexed
// attempt: min(initial * 2^(attempt-1), max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
		if d < 0 {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// WithMaxAttempts returns a copy of the policy with a different attempt
// budget.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// ErrInvalidPolicy is returned by Do when the policy fails validation.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Do runs op until it succeeds or the attempt budget is spent. Attempts are
// strictly sequential. The final attempt's failure is returned as-is.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	clock := p.Clock
	if clock == nil {
		clock = RealClock
	}

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= p.MaxAttempts {
			return zero, err
		}
		if p.OnRetry != nil {
			if abort := p.OnRetry(attempt, err); abort != nil {
				return zero, abort
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-clock.After(p.Delay(attempt)):
		}
	}
}
