// Package commerr defines the stable error taxonomy shared by every layer
// of the commissioner core. Most library code returns (or wraps into) a
// *commerr.Error carrying one of the Codes below, so callers can compare
// on Code and never need to parse the message string. The exceptions are
// the cwt and cborbridge codecs and the joiner package's relayed
// connection, which return plain errors; Kind reports Unknown for those.
package commerr

import (
	"errors"
	"fmt"
)

// Code is a stable, numeric error classification.
type Code int

const (
	// None indicates success. Library functions never construct an Error
	// with this code; it exists so Code(nil) comparisons have a name.
	None Code = iota
	Cancelled
	InvalidArgs
	InvalidCommand
	Timeout
	NotFound
	Security
	Unimplemented
	BadFormat
	Busy
	OutOfMemory
	IOError
	IOBusy
	AlreadyExists
	Aborted
	InvalidState
	Rejected
	Unknown
)

func (c Code) String() string {
	switch c {
	case None:
		return "None"
	case Cancelled:
		return "Cancelled"
	case InvalidArgs:
		return "InvalidArgs"
	case InvalidCommand:
		return "InvalidCommand"
	case Timeout:
		return "Timeout"
	case NotFound:
		return "NotFound"
	case Security:
		return "Security"
	case Unimplemented:
		return "Unimplemented"
	case BadFormat:
		return "BadFormat"
	case Busy:
		return "Busy"
	case OutOfMemory:
		return "OutOfMemory"
	case IOError:
		return "IOError"
	case IOBusy:
		return "IOBusy"
	case AlreadyExists:
		return "AlreadyExists"
	case Aborted:
		return "Aborted"
	case InvalidState:
		return "InvalidState"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Error pairs a Code with a human-readable message and an optional
// underlying cause. The message is for humans; callers must switch on
// Code, never on Error().
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error carrying cause, formatting message like fmt.Sprintf.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Kind extracts the Code from any error, returning Unknown for errors that
// were not produced by this package.
func Kind(err error) Code {
	if err == nil {
		return None
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	return Kind(err) == code
}
