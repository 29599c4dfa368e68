package core

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, machine-readable reason attached to a failed operation.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "validation"
	CodeNotFound            ErrorCode = "not_found"
	CodeNotHolder           ErrorCode = "not_holder"
	CodeRenewalLimitReached ErrorCode = "renewal_limit_reached"
	CodeConflict            ErrorCode = "conflict"
)

// Error carries an ErrorCode and an optional human-readable message.
// Two Errors match under errors.Is when their codes are equal.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithMessage returns a new Error with the same code and the given message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with the same code and a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrValidation          = &Error{Code: CodeValidation}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrNotHolder           = &Error{Code: CodeNotHolder}
	ErrRenewalLimitReached = &Error{Code: CodeRenewalLimitReached}
	ErrConflict            = &Error{Code: CodeConflict}
)

// CodeOf extracts the ErrorCode from err, or "" if err is nil or not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
