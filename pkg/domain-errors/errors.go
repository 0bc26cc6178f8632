// Package domainerrors carries error codes across service boundaries.
//
// Services translate store sentinels and infrastructure failures into coded
// errors so callers (CLI, ops handlers, tests) can branch on the code instead
// of matching messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	CodeBadRequest  Code = "bad_request"
	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeIneligible  Code = "ineligible"
	CodeUnavailable Code = "unavailable"
	CodeTimeout     Code = "timeout"
	CodeInternal    Code = "internal_error"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode lets typed domain errors participate in code lookup.
func (e *Error) ErrorCode() Code {
	return e.Code
}

// Coder is implemented by any error that exposes a Code.
type Coder interface {
	ErrorCode() Code
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the first code found in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var coder Coder
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	for err != nil {
		if coder, ok := err.(Coder); ok && coder.ErrorCode() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Is is an alias for HasCode kept for handler call sites.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}
