// Package protocol implements the control-frame codec and the wire-level
// error vocabulary shared between the session state machine and clients.
package protocol

import "fmt"

// Code is the numeric error-kind wire contract (spec §7).
type Code int

const (
	Success       Code = 0
	InvalidParam  Code = 1
	InvalidState  Code = 2
	InvalidData   Code = 3
	InvalidFormat Code = 4
	NullPointer   Code = 5
	OpenFileError Code = 6
	Eof           Code = 7
	CodecError    Code = 8
	OldFrame      Code = 9
	Other         Code = -1
)

func (c Code) String() string {
	switch c {
	case Success:
		return "Success"
	case InvalidParam:
		return "InvalidParam"
	case InvalidState:
		return "InvalidState"
	case InvalidData:
		return "InvalidData"
	case InvalidFormat:
		return "InvalidFormat"
	case NullPointer:
		return "NullPointer"
	case OpenFileError:
		return "OpenFileError"
	case Eof:
		return "Eof"
	case CodecError:
		return "CodecError"
	case OldFrame:
		return "OldFrame"
	default:
		return "Other"
	}
}

// Error is a domain error carrying a wire error code, analogous to the
// teacher's plain fmt.Errorf but tagged so session handlers know which
// {cmd, code, msg} reply to send.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

// NewError builds a domain Error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error from err, wrapping unknown errors as Other.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if de, ok := err.(*Error); ok {
		return de
	}
	return &Error{Code: Other, Msg: err.Error()}
}
