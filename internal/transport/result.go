package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Errors
var (
	ErrTimeout  = errors.New("request timeout")
	ErrNoResult = errors.New("no result")
)

// Options describe a single outbound request.
type Options struct {
	Method string      // empty means GET
	Header http.Header // copied onto the request
	Body   []byte
}

func (o Options) method() string {
	if o.Method == "" {
		return http.MethodGet
	}
	return o.Method
}

// Result is the outcome of a Call. A failed call is a Result with Err set,
// never a Go error returned alongside it; callers only check OK.
type Result struct {
	StatusCode int
	Header     http.Header
	Attempts   int  // attempts made; zero for cache hits and mock calls
	Cached     bool // served from the GET cache
	Err        error

	body []byte
}

// OK reports whether the call produced a 2xx response.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Bytes returns the response body. The slice must not be modified.
func (r *Result) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.body
}

// Text returns the response body as a string.
func (r *Result) Text() string {
	return string(r.Bytes())
}

// JSON decodes the response body into v.
func (r *Result) JSON(v any) error {
	if !r.OK() {
		return r.Cause()
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Cause returns the failure cause, or nil for a successful result.
func (r *Result) Cause() error {
	switch {
	case r == nil:
		return ErrNoResult
	case r.OK():
		return nil
	case r.Err != nil:
		return r.Err
	}
	return &StatusError{StatusCode: r.StatusCode, Message: http.StatusText(r.StatusCode), Body: r.body}
}

func failed(err error) *Result {
	return &Result{Err: err}
}

// StatusError represents a non-2xx response from the remote service.
type StatusError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the status usually clears up on its own.
// Every failed attempt is retried regardless; this only shapes log severity.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
