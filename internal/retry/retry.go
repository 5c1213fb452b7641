// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls how an operation is retried. Before the k-th retry
// (k starting at 1) Do waits MinDelay * 2^(k-1).
type Policy struct {
	Retries  int
	MinDelay time.Duration

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default is the policy used for storage reads: 3 retries, first wait 500ms.
func Default() Policy {
	return Policy{Retries: 3, MinDelay: 500 * time.Millisecond}
}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return p.MinDelay << (retry - 1)
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do calls op until it succeeds, returns a permanent error, or the policy is
// exhausted. op is called at most Retries+1 times. On exhaustion the last
// error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			d := p.Delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, d, lastErr)
			}
			if err := sleep(ctx, d); err != nil {
				return zero, lastErr
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Err
		}
		lastErr = err
	}
	return zero, lastErr
}

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
