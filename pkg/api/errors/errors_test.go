package errors_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	apierr "github.com/cmcf/autoprocess/pkg/api/errors"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/lease"
)

func TestFromError(t *testing.T) {
	type then struct {
		status int
		code   apierr.Code
	}
	for name, testcase := range map[string]struct {
		when error
		then then
	}{
		"validation": {
			when: domain.NewValidationError("frame_range", "out of extent"),
			then: then{status: http.StatusBadRequest, code: apierr.CodeValidation},
		},
		"missing": {
			when: fmt.Errorf("%w: job-1", domain.ErrMissing),
			then: then{status: http.StatusNotFound, code: apierr.CodeMissing},
		},
		"unknown node": {
			when: domain.ErrUnknownNode,
			then: then{status: http.StatusNotFound, code: apierr.CodeUnknownNode},
		},
		"duplicate": {
			when: domain.ErrDuplicateJob,
			then: then{status: http.StatusConflict, code: apierr.CodeDuplicateJob},
		},
		"busy": {
			when: fmt.Errorf("%w: node-1", domain.ErrNodeBusy),
			then: then{status: http.StatusConflict, code: apierr.CodeNodeBusy},
		},
		"already assigned": {
			when: domain.ErrAlreadyAssigned,
			then: then{status: http.StatusConflict, code: apierr.CodeAlreadyAssigned},
		},
		"not assignable": {
			when: domain.ErrNotAssignable,
			then: then{status: http.StatusConflict, code: apierr.CodeNotAssignable},
		},
		"lease lost": {
			when: domain.ErrLeaseLost,
			then: then{status: http.StatusConflict, code: apierr.CodeLeaseLost},
		},
		"invalid transition": {
			when: domain.ErrInvalidTransition,
			then: then{status: http.StatusConflict, code: apierr.CodeInvalidTransition},
		},
		"invalid token": {
			when: errors.Join(lease.ErrInvalidToken, errors.New("broken")),
			then: then{status: http.StatusUnauthorized, code: apierr.CodeInvalidToken},
		},
		"unknown": {
			when: errors.New("disk is full"),
			then: then{status: http.StatusInternalServerError, code: apierr.CodeInternal},
		},
	} {
		t.Run(name, func(t *testing.T) {
			he := apierr.FromError(testcase.when)
			if he.Code != testcase.then.status {
				t.Errorf("status: (actual, expected) = (%d, %d)", he.Code, testcase.then.status)
			}
			msg, ok := he.Message.(apierr.ErrorMessage)
			if !ok {
				t.Fatalf("message is %T", he.Message)
			}
			if msg.Code != testcase.then.code {
				t.Errorf("code: (actual, expected) = (%s, %s)", msg.Code, testcase.then.code)
			}
		})
	}

	t.Run("HTTPError passes through", func(t *testing.T) {
		given := echo.NewHTTPError(http.StatusTeapot, "teapot")
		if he := apierr.FromError(fmt.Errorf("wrapped: %w", given)); he != given {
			t.Errorf("unexpected: %v", he)
		}
	})
}

func TestErrorMessage_acrossTheWire(t *testing.T) {
	e := echo.New()
	for name, testcase := range map[string]struct {
		when error
		then error
	}{
		"validation": {
			when: domain.NewValidationError("options.mad", "MAD needs two or more datasets"),
			then: domain.ErrValidation,
		},
		"node busy":     {when: domain.ErrNodeBusy, then: domain.ErrNodeBusy},
		"lease lost":    {when: domain.ErrLeaseLost, then: domain.ErrLeaseLost},
		"invalid token": {when: lease.ErrInvalidToken, then: lease.ErrInvalidToken},
		"missing":       {when: domain.ErrMissing, then: domain.ErrMissing},
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			e.DefaultHTTPErrorHandler(apierr.FromError(testcase.when), c)

			var got apierr.ErrorMessage
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("body %s: %v", rec.Body.String(), err)
			}
			if !errors.Is(got, testcase.then) {
				t.Errorf("restored error %v is not %v", got, testcase.then)
			}
		})
	}

	t.Run("validation keeps field", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		e.DefaultHTTPErrorHandler(apierr.FromError(domain.NewValidationError("frame_range", "out of extent")), c)

		var got apierr.ErrorMessage
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		verr := new(domain.ValidationError)
		if !errors.As(got, &verr) || verr.Field != "frame_range" || verr.Reason != "out of extent" {
			t.Errorf("restored: %+v", verr)
		}
	})

	t.Run("reason is required", func(t *testing.T) {
		var got apierr.ErrorMessage
		if err := json.Unmarshal([]byte(`{"advice":"x"}`), &got); err == nil {
			t.Error("no error")
		}
	})
}
