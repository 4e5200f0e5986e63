package store

import (
	"context"
	"fmt"
)

// --------------------------------------------------------------------------
// Data Model
// --------------------------------------------------------------------------

// Record is a single lock record as it exists in the backing store.
type Record struct {
	LockKey        string `json:"lockKey"`
	LeaseDuration  int64  `json:"leaseDuration"`
	VersionNumber  string `json:"versionNumber"`
	HostIdentifier string `json:"hostIdentifier"`
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Adapter is the generic interface for a strongly-consistent, single-key
// conditional-write store. All implementations must guarantee that a
// successful write is linearizable with respect to every other write and
// read the Adapter serves, for the same key.
type Adapter interface {
	// PutIfAbsent creates rec at key. Fails with *Error{Code: RetCConflict}
	// if a record already exists at key.
	PutIfAbsent(ctx context.Context, key string, rec Record) error

	// PutIfVersion overwrites the record at key with rec, but only if the
	// currently stored record's VersionNumber equals expectedVersion. Fails
	// with *Error{Code: RetCConflict} if the record is absent or its
	// version does not match.
	PutIfVersion(ctx context.Context, key string, rec Record, expectedVersion string) error

	// DeleteIfVersion deletes the record at key, but only if its current
	// VersionNumber equals expectedVersion. Fails with
	// *Error{Code: RetCConflict} if the record is absent or its version
	// does not match.
	DeleteIfVersion(ctx context.Context, key string, expectedVersion string) error

	// Get returns the record stored at key, or (nil, nil) if no record
	// exists.
	Get(ctx context.Context, key string) (*Record, error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode
	Msg  string
}

func (e *Error) Error() string {
	var errorCode string
	switch e.Code {
	case RetCConflict:
		errorCode = "Conflict"
	case RetCTransient:
		errorCode = "Transient"
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCUnsupportedOperation:
		errorCode = "UnsupportedOperation"
	default:
		errorCode = "Unknown"
	}
	return fmt.Sprintf("store error (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// IsConflict reports whether err is a store *Error with Code RetCConflict.
func IsConflict(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == RetCConflict
}

// IsTransient reports whether err is a store *Error with Code RetCTransient.
func IsTransient(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == RetCTransient
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // Command executed successfully.
	RetCConflict                            // Conditional write precondition failed.
	RetCTransient                           // Backing store is temporarily unavailable, safe to retry.
	RetCInternalError                       // Command failed due to an internal error.
	RetCUnsupportedOperation                // Operation is not supported by the underlying database.
)
