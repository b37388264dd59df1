package database

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Kind classifies a catalog error for callers that translate failures
// into HTTP status codes.
type Kind int

const (
	// KindInternal is an unclassified store failure.
	KindInternal Kind = iota
	// KindNotFound means a referenced entity does not exist.
	KindNotFound
	// KindBadRequest means the caller's payload cannot be applied,
	// e.g. a collection path that does not resolve.
	KindBadRequest
	// KindConflict means the request collides with existing state,
	// e.g. a duplicate content hash or an alias owned by another
	// creator.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindBadRequest:
		return "bad request"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the typed error returned by all catalog operations.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// BadRequestf builds a bad-request error.
func BadRequestf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// internalErr wraps a store failure, keeping the cause for logs while
// callers only see the generic kind.
func internalErr(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf extracts the Kind from an error chain. Unrecognized errors
// are internal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found catalog error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// mapConstraintErr turns a unique-constraint violation into a conflict
// with the given message; any other failure stays internal.
func mapConstraintErr(err error, message string) *Error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return &Error{Kind: KindConflict, Message: message, Err: err}
	}
	return internalErr(err)
}
