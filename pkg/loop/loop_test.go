package loop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cmcf/autoprocess/pkg/loop"
)

func TestStart(t *testing.T) {
	t.Run("it counts until Break(nil)", func(t *testing.T) {
		got, err := loop.Start(
			context.Background(), 1,
			func(_ context.Context, v int) (int, loop.Next) {
				v += 1
				if 10 <= v {
					return v, loop.Break(nil)
				}
				return v, loop.Continue(0)
			},
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 10 {
			t.Errorf("got %d, want 10", got)
		}
	})

	t.Run("it returns the error of Break", func(t *testing.T) {
		expected := errors.New("fake")
		got, err := loop.Start(
			context.Background(), "init",
			func(_ context.Context, v string) (string, loop.Next) {
				return "last", loop.Break(expected)
			},
		)
		if !errors.Is(err, expected) {
			t.Errorf("unexpected error: %v", err)
		}
		if got != "last" {
			t.Errorf("got %s, want last", got)
		}
	})

	t.Run("it stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		got, err := loop.Start(
			ctx, 0,
			func(_ context.Context, v int) (int, loop.Next) {
				return v + 1, loop.Continue(10 * time.Millisecond)
			},
		)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("unexpected error: %v", err)
		}
		if got < 1 || 6 < got {
			t.Errorf("task ran unexpected times: %d", got)
		}
	})

	t.Run("it does not run task when context is already done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		got, err := loop.Start(ctx, 3, func(_ context.Context, v int) (int, loop.Next) {
			called = true
			return v, loop.Continue(0)
		})
		if called {
			t.Error("task is called")
		}
		if got != 3 || !errors.Is(err, context.Canceled) {
			t.Errorf("(got, err) = (%d, %v)", got, err)
		}
	})

	t.Run("WithTimeout gives each run a deadlined context", func(t *testing.T) {
		timeout := 100 * time.Millisecond
		runs := 0
		_, err := loop.Start(
			context.Background(), 0,
			func(ctx context.Context, v int) (int, loop.Next) {
				runs += 1
				deadline, ok := ctx.Deadline()
				if !ok {
					t.Error("context has no deadline")
				} else if timeout < time.Until(deadline) {
					t.Errorf("deadline is too far: %s", time.Until(deadline))
				}
				if 3 <= runs {
					return v, loop.Break(nil)
				}
				return v, loop.Continue(0)
			},
			loop.WithTimeout(timeout),
		)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
