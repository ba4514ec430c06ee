// Package apperror provides the typed error taxonomy shared by every
// component of the session: construction-time configuration failures,
// backend I/O failures, rate-limit rejections, transport failures,
// callback failures, and cache (de)serialization failures.
package apperror

import (
	"fmt"
	"time"
)

// Code categorizes an Error.
type Code string

const (
	// CodeConfig marks invalid or missing algorithm/backend parameters,
	// raised at session construction.
	CodeConfig Code = "CONFIG_ERROR"
	// CodeBackend marks storage unavailability or I/O failure.
	CodeBackend Code = "BACKEND_ERROR"
	// CodeRateLimited marks an admission refused under RaiseErrors.
	CodeRateLimited Code = "RATE_LIMITED"
	// CodeTransport marks a network/timeout failure from the transport.
	CodeTransport Code = "TRANSPORT_ERROR"
	// CodeCallback marks a callback that panicked or returned an error.
	CodeCallback Code = "CALLBACK_ERROR"
	// CodeSerialization marks a cache entry that failed to deserialize.
	CodeSerialization Code = "SERIALIZATION_ERROR"
)

// Error is the concrete error type returned across package boundaries. It
// carries enough context to log and to match on (via Code) without string
// comparison.
type Error struct {
	Code      Code
	Message   string
	Timestamp time.Time
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by Code, so errors.Is(err, apperror.New(CodeRateLimited, "")) works
// regardless of message/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now()}
}

// Wrap creates an Error wrapping an existing error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now(), Cause: cause}
}

// Config constructs a CodeConfig error.
func Config(format string, args ...any) *Error {
	return New(CodeConfig, fmt.Sprintf(format, args...))
}

// Backend wraps cause as a CodeBackend error.
func Backend(op string, cause error) *Error {
	return Wrap(CodeBackend, fmt.Sprintf("backend operation %q failed", op), cause)
}

// RateLimited constructs a CodeRateLimited error for key.
func RateLimited(key string) *Error {
	return New(CodeRateLimited, fmt.Sprintf("rate limit exceeded for key %q", key))
}

// Transport wraps cause as a CodeTransport error.
func Transport(cause error) *Error {
	return Wrap(CodeTransport, "transport request failed", cause)
}

// CallbackError wraps a callback panic/error without aborting the pipeline.
// It is attached to Response.Callbacks in place of the callback's normal
// return value; it is never returned from Session.Do on its own.
type CallbackError struct {
	Err error
}

func (c *CallbackError) Error() string {
	return fmt.Sprintf("callback error: %v", c.Err)
}

func (c *CallbackError) Unwrap() error {
	return c.Err
}

// Serialization wraps cause as a CodeSerialization error.
func Serialization(cause error) *Error {
	return Wrap(CodeSerialization, "failed to deserialize cache entry", cause)
}
