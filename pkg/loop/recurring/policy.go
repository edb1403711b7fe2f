package recurring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cmcf/autoprocess/pkg/loop"
)

// ParsePolicy parses "forever", "forever:INTERVAL" or "backlog".
//
// Each can be prefixed with "until-error:", like "until-error:forever:10s".
func ParsePolicy(s string) (Policy, error) {
	typ, param, hasParam := strings.Cut(s, ":")
	switch typ {
	case "until-error":
		if !hasParam || param == "" {
			return nil, fmt.Errorf("until-error needs a policy to follow: %s", s)
		}
		base, err := ParsePolicy(param)
		if err != nil {
			return nil, err
		}
		return UntilError(base), nil
	case "forever":
		if !hasParam || param == "" {
			return Forever(0), nil
		}
		d, err := time.ParseDuration(param)
		if err != nil {
			return nil, fmt.Errorf(`failed to parse %s as "forever:INTERVAL": %w`, s, err)
		}
		return Forever(d), nil
	case "backlog":
		if hasParam {
			return nil, fmt.Errorf("backlog policy does not take parameters: %s", s)
		}
		return Backlog(), nil
	}
	return nil, fmt.Errorf("unknown policy: %s (should be one of forever|backlog|until-error)", typ)
}

// Policy decides how a recurring task goes on.
type Policy interface {
	// Next is called with whether the last run did something, and its error.
	Next(updated bool, err error) loop.Next
	String() string
}

// Forever restarts immediately while there are things to do,
// and otherwise after interval. Errors do not stop it.
func Forever(interval time.Duration) Policy {
	return forever(interval)
}

type forever time.Duration

func (f forever) String() string {
	return "forever:" + time.Duration(f).String()
}

func (f forever) Next(updated bool, _ error) loop.Next {
	if updated {
		return loop.Continue(0)
	}
	return loop.Continue(time.Duration(f))
}

// Backlog restarts immediately while there are things to do, and breaks otherwise.
func Backlog() Policy {
	return backlog{}
}

type backlog struct{}

func (backlog) String() string {
	return "backlog"
}

func (backlog) Next(updated bool, _ error) loop.Next {
	if updated {
		return loop.Continue(0)
	}
	return loop.Break(nil)
}

// UntilError breaks with the error when a run fails, and follows p otherwise.
func UntilError(p Policy) Policy {
	return untilError{base: p}
}

type untilError struct {
	base Policy
}

func (u untilError) String() string {
	return u.base.String() + " (until error)"
}

func (u untilError) Next(updated bool, err error) loop.Next {
	if err != nil {
		return loop.Break(err)
	}
	return u.base.Next(updated, err)
}

// Task is a unit of recurring work.
//
// It returns the next value, whether it did something, and an error.
type Task[T any] func(context.Context, T) (T, bool, error)

// Bind makes a loop.Task from a recurring task and a policy.
func Bind[T any](task Task[T], p Policy) loop.Task[T] {
	return func(ctx context.Context, v T) (T, loop.Next) {
		next, updated, err := task(ctx, v)
		return next, p.Next(updated, err)
	}
}
