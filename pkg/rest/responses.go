package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apierr "github.com/cmcf/autoprocess/pkg/api/errors"
)

// ResponseError is an error response of dpservice.
//
// It unwraps to the cause the server told, which is a domain sentinel when the server
// responded with a known error code.
type ResponseError struct {
	StatusCode int
	Message    apierr.ErrorMessage
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s (status code = %d)", e.Message.String(), e.StatusCode)
}

func (e *ResponseError) Unwrap() error {
	return e.Message
}

// unmarshal http response which has json content.
//
// error if...
//
// - can not read response body
//
// - response body is not shaped of v
//
// - status code is not 2xx. Then the error is *ResponseError.
func unmarshalJsonResponse[T any](resp *http.Response, v *T) error {
	if StatusCodeRangeOf(resp) == Status2xx {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("unexpected response: %w (status code = %d)", err, resp.StatusCode)
		}
		return nil
	}
	return errorResponse(resp)
}

// discardResponse reads out the response, and returns error for non-2xx responses.
func discardResponse(resp *http.Response) error {
	if StatusCodeRangeOf(resp) == Status2xx {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return errorResponse(resp)
}

func errorResponse(resp *http.Response) error {
	scr := StatusCodeRangeOf(resp)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s (status code = %d): cannot read server message: %w", scr, resp.StatusCode, err)
	}

	re := &ResponseError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, &re.Message); err != nil {
		reason := strings.TrimSpace(string(body))
		if reason == "" {
			reason = scr.String()
		}
		re.Message = apierr.ErrorMessage{Reason: reason}
	}
	return re
}
