// Package apperrors defines the coded error taxonomy shared by the queue, the
// external-process runner, the permission broker and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
)

// Code identifies an error class.
type Code string

const (
	CodeCapacity               Code = "CAPACITY"
	CodeExternalProcessFailure Code = "EXTERNAL_PROCESS_FAILURE"
	CodeSpawnFailure           Code = "SPAWN_FAILURE"
	CodeTimeout                Code = "TIMEOUT"
	CodeCancelled              Code = "CANCELLED"
	CodeAuthorizationTimeout   Code = "AUTHORIZATION_TIMEOUT"
	CodeMalformedRequest       Code = "MALFORMED_REQUEST"
	CodeUnknownRequest         Code = "UNKNOWN_REQUEST"
	CodeNoActiveSession        Code = "NO_ACTIVE_SESSION"
	CodeLocked                 Code = "LOCKED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInvalidInput           Code = "INVALID_INPUT"
	CodeNoOperator             Code = "NO_OPERATOR"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to cause.
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Message returns the human message of a coded error, or err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Cause != nil && coded.Message == "" {
			return coded.Cause.Error()
		}
		return coded.Message
	}
	return err.Error()
}
