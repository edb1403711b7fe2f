// Package errors builds HTTP errors of dpservice, and converts them back.
//
// An error response has a body like
//
//	{"reason": "...", "advice": "...", "code": "node_busy", "cause": "..."}
//
// "code" names a sentinel error of pkg/domain, so that clients can inspect
// errors with errors.Is across the wire.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/lease"
)

// Code identifies the kind of an error.
type Code string

const (
	CodeValidation        Code = "validation"
	CodeDuplicateJob      Code = "duplicate_job"
	CodeMissing           Code = "missing"
	CodeNodeBusy          Code = "node_busy"
	CodeAlreadyAssigned   Code = "already_assigned"
	CodeNotAssignable     Code = "not_assignable"
	CodeUnknownNode       Code = "unknown_node"
	CodeLeaseLost         Code = "lease_lost"
	CodeInvalidToken      Code = "invalid_token"
	CodeInvalidTransition Code = "invalid_transition"
	CodeInternal          Code = "internal"
)

var sentinels = map[Code]error{
	CodeValidation:        domain.ErrValidation,
	CodeDuplicateJob:      domain.ErrDuplicateJob,
	CodeMissing:           domain.ErrMissing,
	CodeNodeBusy:          domain.ErrNodeBusy,
	CodeAlreadyAssigned:   domain.ErrAlreadyAssigned,
	CodeNotAssignable:     domain.ErrNotAssignable,
	CodeUnknownNode:       domain.ErrUnknownNode,
	CodeLeaseLost:         domain.ErrLeaseLost,
	CodeInvalidToken:      lease.ErrInvalidToken,
	CodeInvalidTransition: domain.ErrInvalidTransition,
}

// Sentinel returns the sentinel error of the code, or nil for unknown codes.
func (c Code) Sentinel() error {
	return sentinels[c]
}

type ErrorMessage struct {
	Reason string `json:"reason"`
	Advice string `json:"advice,omitempty"`
	See    string `json:"see,omitempty"`
	Code   Code   `json:"code,omitempty"`

	// Field is the wrong field of a job descriptor, for CodeValidation.
	Field string `json:"field,omitempty"`

	// Detail is the message of Cause.
	Detail string `json:"cause,omitempty"`

	Cause error `json:"-"`
}

// MarshalJSON encodes the message.
//
// echo's HTTPErrorHandler writes a json.Marshaler message as is.
func (em ErrorMessage) MarshalJSON() ([]byte, error) {
	type plain ErrorMessage
	return json.Marshal(plain(em))
}

// UnmarshalJSON decodes the message, and restores Cause from Code and Detail.
func (em *ErrorMessage) UnmarshalJSON(bytes []byte) error {
	f := new(struct {
		Reason *string `json:"reason"`
		Advice string  `json:"advice,omitempty"`
		See    string  `json:"see,omitempty"`
		Code   Code    `json:"code,omitempty"`
		Field  string  `json:"field,omitempty"`
		Detail string  `json:"cause,omitempty"`
	})
	if err := json.Unmarshal(bytes, f); err != nil {
		return err
	}
	if f.Reason == nil {
		return fmt.Errorf(`required field missing: "reason"`)
	}

	*em = ErrorMessage{
		Reason: *f.Reason,
		Advice: f.Advice,
		See:    f.See,
		Code:   f.Code,
		Field:  f.Field,
		Detail: f.Detail,
	}

	switch sentinel := f.Code.Sentinel(); {
	case f.Code == CodeValidation:
		em.Cause = &domain.ValidationError{Field: f.Field, Reason: f.Detail}
	case sentinel != nil && f.Detail != "":
		em.Cause = fmt.Errorf("%w: %s", sentinel, f.Detail)
	case sentinel != nil:
		em.Cause = sentinel
	case f.Detail != "":
		em.Cause = errors.New(f.Detail)
	}
	return nil
}

func (e ErrorMessage) String() string {
	lines := []string{e.Reason}
	if e.Advice != "" {
		lines = append(lines, e.Advice)
	}
	if e.Cause != nil {
		lines = append(lines, fmt.Sprint(" caused by: ", e.Cause.Error()))
	}
	return strings.Join(lines, "\n")
}

func (e ErrorMessage) Error() string {
	return e.String()
}

func (e ErrorMessage) Unwrap() error {
	return e.Cause
}

type ErrorMessageOption func(in *ErrorMessage) *ErrorMessage

func WithAdvice(advice string) ErrorMessageOption {
	return func(in *ErrorMessage) *ErrorMessage {
		if advice != "" {
			in.Advice = advice
		}
		return in
	}
}

func WithError(err error) ErrorMessageOption {
	return func(in *ErrorMessage) *ErrorMessage {
		if err != nil {
			in.Cause = err
			in.Detail = err.Error()
		}
		return in
	}
}

func WithSee(see string) ErrorMessageOption {
	return func(in *ErrorMessage) *ErrorMessage {
		if see != "" {
			in.See = see
		}
		return in
	}
}

func WithCode(code Code) ErrorMessageOption {
	return func(in *ErrorMessage) *ErrorMessage {
		in.Code = code
		return in
	}
}

func NewErrorMessage(code int, reason string, opts ...ErrorMessageOption) *echo.HTTPError {
	msg := ErrorMessage{Reason: reason}
	for _, opt := range opts {
		msg = *opt(&msg)
	}

	return echo.NewHTTPError(code, msg).SetInternal(msg)
}

func NotFound(code Code, err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusNotFound, "not found", WithCode(code), WithError(err))
}

func BadRequest(advice string, err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusBadRequest,
		"bad request",
		WithAdvice(advice),
		WithError(err),
	)
}

func Conflict(message string, options ...ErrorMessageOption) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusConflict,
		message,
		options...,
	)
}

func InternalServerError(err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusInternalServerError,
		"unexpected error",
		WithCode(CodeInternal),
		WithError(err),
	)
}

func Unauthorized(message string, err error) *echo.HTTPError {
	return NewErrorMessage(
		http.StatusUnauthorized,
		message,
		WithCode(CodeInvalidToken),
		WithError(err),
	)
}

// Invalid reports a wrong job descriptor.
func Invalid(verr *domain.ValidationError) *echo.HTTPError {
	msg := ErrorMessage{
		Reason: "invalid job descriptor",
		Advice: "fix " + verr.Field + " and submit again.",
		Code:   CodeValidation,
		Field:  verr.Field,
		Detail: verr.Reason,
		Cause:  verr,
	}
	return echo.NewHTTPError(http.StatusBadRequest, msg).SetInternal(msg)
}

var conflicts = []struct {
	code   Code
	reason string
	advice string
}{
	{CodeDuplicateJob, "duplicate job", "wait for the job to finish or use another job id."},
	{CodeNodeBusy, "node is busy", "assign to another node or retry later."},
	{CodeAlreadyAssigned, "job is already assigned", "wait for the node to release the job."},
	{CodeNotAssignable, "job is not assignable", ""},
	{CodeLeaseLost, "lease is lost", "discard the result. the job is released from this node."},
	{CodeInvalidTransition, "invalid pipeline transition", ""},
}

// FromError converts an error of dispatch into *echo.HTTPError.
//
// Errors not known are InternalServerError.
func FromError(err error) *echo.HTTPError {
	if he := new(echo.HTTPError); errors.As(err, &he) {
		return he
	}
	if verr := new(domain.ValidationError); errors.As(err, &verr) {
		return Invalid(verr)
	}
	switch {
	case errors.Is(err, domain.ErrMissing):
		return NotFound(CodeMissing, err)
	case errors.Is(err, domain.ErrUnknownNode):
		return NotFound(CodeUnknownNode, err)
	case errors.Is(err, lease.ErrInvalidToken):
		return Unauthorized("invalid lease token", err)
	}
	for _, c := range conflicts {
		if errors.Is(err, c.code.Sentinel()) {
			return Conflict(c.reason, WithCode(c.code), WithAdvice(c.advice), WithError(err))
		}
	}
	return InternalServerError(err)
}
