package retry

import (
	"context"
	"errors"
	"time"
)

// ErrRetry tells Blocking to call the function again.
var ErrRetry = errors.New("retry")

// Backoff blocks until the next try.
//
// It returns ctx.Err() when the context is done before that.
type Backoff func(context.Context) error

// StaticBackoff waits for the same interval every time.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1, 0)
}

// ExponentialBackoff waits initial * r^N before the N-th retry.
//
// When ceil is positive, intervals are capped with it.
func ExponentialBackoff(initial time.Duration, r float64, ceil time.Duration) Backoff {
	interval := initial
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * r)
		if 0 < ceil && ceil < interval {
			interval = ceil
		}
		return nil
	}
}

// Blocking calls f until it returns nil or an error other than ErrRetry.
//
// f is called first without waiting. Before each retry, b blocks.
//
// # Returns
//
// - T: the last value f returned
//
// - error: the error f returned (not ErrRetry), or the error of b.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	for {
		last, err := f()
		if err == nil {
			return last, nil
		}
		if !errors.Is(err, ErrRetry) {
			return last, err
		}
		if err := b(ctx); err != nil {
			return last, err
		}
	}
}
