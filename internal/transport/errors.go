package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is returned by Stream when the stream was cancelled through
// its Handle or its context.
var ErrCancelled = errors.New("transport: stream cancelled")

type cancelledError struct{ cause error }

func (e *cancelledError) Error() string {
	if e.cause == nil {
		return ErrCancelled.Error()
	}
	return ErrCancelled.Error() + ": " + e.cause.Error()
}

func (e *cancelledError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrCancelled}
	}
	return []error{ErrCancelled, e.cause}
}

// Error is a network level failure.
type Error struct {
	Op  string
	URL string
	Err error
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError is a non-2xx response. Message and Type are filled when the
// body carried a vendor error object.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
	Message    string
	Type       string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		if e.Type != "" {
			return fmt.Sprintf("transport: http %d: %s (type=%s)", e.StatusCode, e.Message, e.Type)
		}
		return fmt.Sprintf("transport: http %d: %s", e.StatusCode, e.Message)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("transport: http %d: %s", e.StatusCode, body)
	}
	return fmt.Sprintf("transport: http %d", e.StatusCode)
}

// vendorError covers the error envelopes used by the supported vendors:
// {"error":{"message","type","status"}} and {"error":"text"}.
type vendorError struct {
	Error json.RawMessage `json:"error"`
}

func newStatusError(code int, status string, body []byte) *StatusError {
	se := &StatusError{StatusCode: code, Status: status, Body: string(body)}
	var env vendorError
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return se
	}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil {
		se.Message = obj.Message
		se.Type = obj.Type
		if se.Type == "" {
			se.Type = obj.Status
		}
		return se
	}
	var text string
	if err := json.Unmarshal(env.Error, &text); err == nil {
		se.Message = text
	}
	return se
}
