// Package retry re-invokes fallible operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxDelay caps the backoff when Policy.MaxDelay is zero.
const DefaultMaxDelay = 30 * time.Minute

// Policy controls a retry loop. MaxRetries is the total number of attempts.
type Policy struct {
	Label      string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable. Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the wait after the given failed attempt (1-based): BaseDelay
// doubled per attempt, never more than MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return min(d, ceiling)
}

// sleep is replaceable in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Do runs op until it succeeds, returns a Permanent error, the context ends,
// or MaxRetries attempts have failed. The last failure is returned wrapped
// with the policy label.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if IsPermanent(err) {
			return zero, fmt.Errorf("%s: %w", p.Label, errors.Unwrap(err))
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if p.Logger != nil {
			p.Logger.Warn("attempt failed, retrying",
				"label", p.Label,
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", delay.String(),
				"error", err,
			)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("%s: %w (last error: %v)", p.Label, serr, lastErr)
		}
	}
	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", p.Label, attempts, lastErr)
}
