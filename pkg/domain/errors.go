package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation means a job descriptor is malformed. It is never enqueued.
	ErrValidation = errors.New("invalid job descriptor")

	// ErrDuplicateJob means a job with the same id is still active.
	ErrDuplicateJob = errors.New("duplicate job")

	// ErrMissing means the requested job is not found.
	ErrMissing = errors.New("missing")

	// ErrNodeBusy means the node has no room for one more job.
	ErrNodeBusy = errors.New("node is busy")

	// ErrAlreadyAssigned means the job is held by another assignment.
	ErrAlreadyAssigned = errors.New("job is already assigned")

	// ErrNotAssignable means the job is terminal and can not be assigned.
	ErrNotAssignable = errors.New("job is not assignable")

	// ErrUnknownNode means the node is not in the node registry.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNoJob means there are no jobs waiting for assignment.
	ErrNoJob = errors.New("no job is waiting")

	// ErrLeaseLost means the caller does not hold the current assignment of the job.
	ErrLeaseLost = errors.New("lease is lost")

	// ErrInvalidTransition means the requested pipeline transition is not allowed.
	ErrInvalidTransition = errors.New("invalid pipeline transition")

	// ErrNoViableSymmetry means every symmetry candidate exceeds the quality threshold.
	ErrNoViableSymmetry = errors.New("no viable symmetry")

	// ErrEngineFailure means the external engine failed to process a stage.
	ErrEngineFailure = errors.New("engine failure")

	// ErrCanceled means the job is canceled by request.
	ErrCanceled = errors.New("canceled")
)

// ValidationError tells which field of a job descriptor is wrong.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, v.Field, v.Reason)
}

func (v *ValidationError) Unwrap() error {
	return ErrValidation
}
