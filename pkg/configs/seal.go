// Package configs has helpers shared by configuration files.
//
// Configuration files are YAML. Each is unmarshalled into a mutable
// "Marshall" struct, then sealed into an immutable config with getters.
// Sealing panics on misconfiguration; Seal recovers it into an error.
package configs

import (
	"errors"
	"fmt"
	"time"
)

// ErrMisconfigured is wrapped by errors of sealing.
var ErrMisconfigured = errors.New("misconfigured")

type Marshalled[S any] interface {
	TrySeal(path string) S
}

// Seal verifies the marshalled configuration and makes the immutable version.
//
// A panic raised by TrySeal is returned as an error wrapping ErrMisconfigured.
func Seal[S any](m Marshalled[S]) (sealed S, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok {
			err = fmt.Errorf("%w: %w", ErrMisconfigured, e)
			return
		}
		err = fmt.Errorf("%w: %v", ErrMisconfigured, r)
	}()
	return m.TrySeal("(root)"), nil
}

// NonNil panics when v is nil.
func NonNil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

// Required panics when v is the zero value.
func Required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

// Or returns v, or d when v is the zero value.
func Or[T comparable](v T, d T) T {
	if v == *new(T) {
		return d
	}
	return v
}

// Positive panics when v is not positive.
func Positive[T ~int | ~int32 | ~int64 | ~float64](v T, path string) T {
	if v <= 0 {
		panic(fmt.Sprintf("%s should be positive, but %v", path, v))
	}
	return v
}

// Duration parses a Go duration string like "30s".
//
// Empty string is d. Non-positive durations panic.
func Duration(v string, d time.Duration, path string) time.Duration {
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed: %w", path, err))
	}
	return Positive(dur, path)
}
