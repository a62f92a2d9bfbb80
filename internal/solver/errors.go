package solver

import (
	"errors"
	"fmt"
)

// Code classifies a dispatch failure.
type Code int

const (
	// CodeInvalidArgument marks pre-flight failures: mismatched types,
	// shapes that cannot be split into matrices, dimension overflow. No
	// device work has been issued when this code is returned.
	CodeInvalidArgument Code = iota + 1
	// CodeUnknown marks runtime failures: scratch exhaustion, handle
	// creation, launch errors and failed backend calls.
	CodeUnknown
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknown         = errors.New("unknown")
)

// Error is the structured (code, message) result of a failed dispatch.
type Error struct {
	Code Code
	Msg  string
	// Err is the backend error that caused the failure, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap exposes both the code sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	sentinel := ErrUnknown
	if e.Code == CodeInvalidArgument {
		sentinel = ErrInvalidArgument
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

func invalidArgument(format string, args ...any) error {
	return &Error{Code: CodeInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func unknown(cause error, format string, args ...any) error {
	return &Error{Code: CodeUnknown, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// CodeOf returns the code carried by err. Errors that did not originate in
// this package report CodeUnknown; nil reports 0.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}
