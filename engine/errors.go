package engine

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	CodeUnknown
	CodeInvalidArgument
	CodeInvalidOperation
	CodeOutOfMemory
	CodeUnsupportedHardware
	CodeCancelled
)

// String returns the code name.
func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "None"
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeInvalidOperation:
		return "InvalidOperation"
	case CodeOutOfMemory:
		return "OutOfMemory"
	case CodeUnsupportedHardware:
		return "UnsupportedHardware"
	case CodeCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error is a failure reported by the engine, surfaced verbatim.
type Error struct {
	Code    ErrorCode
	Message string
}

// Errorf returns an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("denoise engine: %v", e.Code)
	}
	return fmt.Sprintf("denoise engine: %v: %s", e.Code, e.Message)
}

// Is matches another *Error with the same code, so the sentinels below
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Code == e.Code
}

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrOutOfMemory         = &Error{Code: CodeOutOfMemory}
	ErrInvalidArgument     = &Error{Code: CodeInvalidArgument}
	ErrInvalidOperation    = &Error{Code: CodeInvalidOperation}
	ErrUnsupportedHardware = &Error{Code: CodeUnsupportedHardware}
	ErrCancelled           = &Error{Code: CodeCancelled}
)

// Creation failures wrap the *Error that caused them.
var (
	ErrDeviceCreationFailed = errors.New("denoise engine: device creation failed")
	ErrFilterCreationFailed = errors.New("denoise engine: filter creation failed")
)
