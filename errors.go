package veo

import "fmt"

// ErrorCode classifies an Error without requiring callers to match on its
// message text.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrInvalidArgument
	ErrClosed
	ErrTimeout
	ErrTransport
	ErrException
	ErrNotFound
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNone:
		return "none"
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrClosed:
		return "closed"
	case ErrTimeout:
		return "timeout"
	case ErrTransport:
		return "transport"
	case ErrException:
		return "exception"
	case ErrNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the structured error type public operations return for the
// failures they classify themselves (invalid arguments, closed contexts,
// exceptions, launch and attach failures). Transport and reply-decode
// failures inside a call may reach the caller as the wrapped error from the
// lower layer instead.
// ProcID and ContextID are -1 when not applicable to the failing operation.
type Error struct {
	Op        string
	ProcID    int
	ContextID int
	Code      ErrorCode
	Errno     int
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	var loc string
	switch {
	case e.ContextID >= 0:
		loc = fmt.Sprintf(" proc=%d context=%d", e.ProcID, e.ContextID)
	case e.ProcID >= 0:
		loc = fmt.Sprintf(" proc=%d", e.ProcID)
	}
	if e.Inner != nil {
		return fmt.Sprintf("veo: %s:%s %s: %s (%v)", e.Op, loc, e.Code, e.Msg, e.Inner)
	}
	return fmt.Sprintf("veo: %s:%s %s: %s", e.Op, loc, e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is reports whether target is an *Error with the same Code, which lets
// callers write `errors.Is(err, &veo.Error{Code: veo.ErrClosed})`.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ProcID: -1, ContextID: -1, Code: code, Msg: msg}
}

func wrapError(op string, code ErrorCode, msg string, inner error) *Error {
	return &Error{Op: op, ProcID: -1, ContextID: -1, Code: code, Msg: msg, Inner: inner}
}
