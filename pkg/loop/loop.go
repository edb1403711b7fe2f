package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after a task returns.
type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	switch {
	case n.err != nil:
		return fmt.Sprintf("[break] with error: %v", n.err)
	case n.quit:
		return "[break] without error"
	default:
		return fmt.Sprintf("[continue] interval: %s", n.interval)
	}
}

// Continue the loop after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break the loop. err may be nil.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task is a body of a loop.
//
// It receives the value returned by the last run (or the initial value),
// and returns a new value and what to do next.
type Task[T any] func(context.Context, T) (T, Next)

// Start runs task repeatedly until it breaks or ctx is done.
//
// The zero Next{} equals Continue(0), that is, "go next ASAP".
//
// Example: sweep expired leases every second until an error occurs.
//
//	loop.Start(ctx, 0, func(ctx context.Context, swept int) (int, loop.Next) {
//		released, err := svc.ExpireLeases(ctx)
//		if err != nil {
//			return swept, loop.Break(err)
//		}
//		return swept + len(released), loop.Continue(time.Second)
//	})
//
// # Returns
//
// - T: the value task returned at last. It is returned even with an error.
//
// - error: the error passed to Break, or ctx.Err() when ctx is done.
func Start[T any](ctx context.Context, init T, task Task[T], options ...LoopOption) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		lc := &loopConfig{ctx: ctx}
		for _, opt := range options {
			lc = opt(lc)
		}

		v, n := func() (T, Next) {
			if lc.deferred != nil {
				defer lc.deferred()
			}
			return task(lc.ctx, value)
		}()

		if n.err != nil {
			return v, n.err
		}
		if n.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			// shutting down comes first.
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}

type loopConfig struct {
	ctx      context.Context
	deferred func()
}

type LoopOption func(*loopConfig) *loopConfig

// WithTimeout sets a timeout on the context passed to each task run.
func WithTimeout(d time.Duration) LoopOption {
	return func(lc *loopConfig) *loopConfig {
		ctx, cancel := context.WithTimeout(lc.ctx, d)
		return &loopConfig{
			ctx: ctx,
			deferred: func() {
				if lc.deferred != nil {
					defer lc.deferred()
				}
				cancel()
			},
		}
	}
}
