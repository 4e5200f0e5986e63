package dlm

import "fmt"

// Code identifies the kind of failure a dlm operation ran into.
type Code uint64

const (
	// CodeAcquireTimeout means the caller's acquire_timeout elapsed before
	// the lock could be obtained or stolen.
	CodeAcquireTimeout Code = iota
	// CodeAlreadyInUse means the Session already has a live Handle for the
	// name (CreateLock, DeserializeLock), or a serialized token was stale -
	// released, refreshed or stolen - by the time DeserializeLock redeemed it.
	CodeAlreadyInUse
	// CodeMalformedToken means a serialized token failed to parse or
	// contained unexpected fields.
	CodeMalformedToken
	// CodeWrongTable means a serialized token names a table other than the
	// Session it is being deserialized against.
	CodeWrongTable
	// CodeIllegalState means the operation is not valid for the Handle's
	// current state (e.g. acquiring a Handle that is already held, or
	// serializing one that is not held).
	CodeIllegalState
	// CodeTransient wraps a transient failure surfaced by the backing
	// store.Adapter.
	CodeTransient
	// CodeInternal is used for failures that indicate a bug rather than an
	// expected runtime condition.
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeAcquireTimeout:
		return "AcquireTimeout"
	case CodeAlreadyInUse:
		return "AlreadyInUse"
	case CodeMalformedToken:
		return "MalformedToken"
	case CodeWrongTable:
		return "WrongTable"
	case CodeIllegalState:
		return "IllegalState"
	case CodeTransient:
		return "Transient"
	case CodeInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every dlm operation that fails for a
// reason the caller can act on.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dlm error (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new *Error with the given code and message.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Is allows errors.Is(err, dlm.NewError(code, "")) to match on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HasCode reports whether err is a *Error carrying the given code.
func HasCode(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
