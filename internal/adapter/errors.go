package adapter

import (
	"errors"
	"fmt"
)

// ErrConfig matches every *ConfigError through errors.Is.
var ErrConfig = errors.New("adapter: invalid configuration")

// ConfigError reports a provider configuration that cannot produce a request.
type ConfigError struct {
	Provider string
	Field    string
	Reason   string
	Err      error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// DecodeError reports a stream frame that could not be parsed.
type DecodeError struct {
	Provider string
	// Frame is the offending frame, truncated.
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode frame %q: %v", e.Provider, e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// VendorError is an error object the vendor sent inside an otherwise
// successful stream.
type VendorError struct {
	Provider string
	Type     string
	Message  string
}

func (e *VendorError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: stream error (%s): %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: stream error: %s", e.Provider, e.Message)
}

const maxFrameInError = 200

// Truncate shortens s to at most n bytes for logging.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
