// Package huberrors defines the hub's structured error taxonomy and
// retry policy.
package huberrors

import (
	"errors"
	"fmt"
)

// Code is one of the taxonomy codes from the hub's error contract.
// Errors are grouped into CAP_* (core capability errors), VALID_*
// (input validation), NET_* (transport to external collaborators),
// RAG_* (retrieval backend), and TIMEOUT_* (deadline) families.
type Code string

const (
	CodeAgentNotFound       Code = "CAP_AGENT_NOT_FOUND"
	CodeAgentNotReady       Code = "CAP_AGENT_NOT_READY"
	CodeAgentUnhealthy      Code = "CAP_AGENT_UNHEALTHY"
	CodeAgentConflict       Code = "CAP_AGENT_CONFLICT"
	CodeThreadNotFound      Code = "CAP_THREAD_NOT_FOUND"
	CodeThreadClosed        Code = "CAP_THREAD_CLOSED"
	CodeRunNotFound         Code = "CAP_RUN_NOT_FOUND"
	CodeRunCancelled        Code = "CAP_RUN_CANCELLED"
	CodeRunTimeout          Code = "CAP_RUN_TIMEOUT"
	CodeRunExecutionFailed  Code = "CAP_RUN_EXECUTION_FAILED"
	CodeInterruptNotFound   Code = "CAP_INTERRUPT_NOT_FOUND"
	CodeInterruptExpired    Code = "CAP_INTERRUPT_EXPIRED"
	CodeInterruptConflict   Code = "CAP_INTERRUPT_CONFLICT"

	CodeValidationFailed Code = "VALID_INPUT"
	CodeValidationSchema Code = "VALID_SCHEMA"

	CodeNetUnavailable Code = "NET_UNAVAILABLE"
	CodeNetTimeout     Code = "NET_TIMEOUT"

	CodeRAGUnavailable Code = "RAG_UNAVAILABLE"
	CodeRAGNoResults   Code = "RAG_NO_RESULTS"

	CodeTimeoutOperation Code = "TIMEOUT_OPERATION"
)

// retryableCodes are retried by policy unless the caller overrides
// Retryable explicitly; see §7 propagation policy.
var retryableCodes = map[Code]bool{
	CodeNetUnavailable:   true,
	CodeNetTimeout:       true,
	CodeTimeoutOperation: true,
}

// Error is the hub's structured error type. It satisfies errors.Is/As
// via Unwrap.
type Error struct {
	Code      Code
	Message   string
	Cause     error
	Retryable bool
	Context   map[string]any
}

// New creates an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: retryableCodes[code]}
}

// NewWithCause creates an Error wrapping cause.
func NewWithCause(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Retryable: retryableCodes[code]}
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithContext returns a copy of e with k=v merged into Context.
func (e *Error) WithContext(k string, v any) *Error {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for k2, v2 := range e.Context {
		cp.Context[k2] = v2
	}
	cp.Context[k] = v
	return &cp
}

// WithRetryable returns a copy of e with Retryable overridden.
func (e *Error) WithRetryable(retryable bool) *Error {
	cp := *e
	cp.Retryable = retryable
	return &cp
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// FromError wraps an arbitrary error in a single Error with the given
// code, taking err's message and, as Cause, the error err directly
// wraps (one errors.Unwrap step). If err is or wraps an *Error, that
// *Error is returned as-is.
func FromError(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: code, Message: err.Error(), Cause: errors.Unwrap(err), Retryable: retryableCodes[code]}
}

// CodeOf extracts the Code from err, or "" if err is not (or does not
// wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
