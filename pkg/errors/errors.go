// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling for the agentlink runtime.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies agentlink errors for callers and for retry decisions.
type ErrorCode string

const (
	// CodeNotFound indicates no playbook matched the requested id.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeMalformedDefinition indicates a playbook document could not be parsed.
	CodeMalformedDefinition ErrorCode = "MALFORMED_DEFINITION"

	// CodeExecutionFailed indicates the execution engine reported an error.
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"

	// CodeDeliveryFailed indicates all sync delivery attempts were exhausted.
	CodeDeliveryFailed ErrorCode = "DELIVERY_FAILED"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeUnauthorized indicates an envelope failed signature verification.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeContextLost indicates the caller's context was cancelled mid-operation.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AdapterError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type AdapterError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// New creates a new AdapterError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *AdapterError {
	return &AdapterError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]any),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *AdapterError) WithContext(key string, value any) *AdapterError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be retried.
// Returns the error for method chaining.
func (e *AdapterError) WithRecoverable(recoverable bool) *AdapterError {
	e.Recoverable = recoverable
	return e
}

// AsAdapterError attempts to convert an error to an AdapterError.
// Returns the error unchanged if it is one, or wraps it as internal otherwise.
func AsAdapterError(err error) *AdapterError {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidInput, CodeMalformedDefinition:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeContextLost:
		return 408
	case CodeDeliveryFailed:
		return 502
	default:
		return 500
	}
}
