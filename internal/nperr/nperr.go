// Package nperr defines the closed set of error kinds newpkg operations
// return, and the helpers to attach, test, and unwrap them. It
// is the "sum type of error kinds" called for in place of the ad hoc,
// best-effort error handling of the original shell implementation:
// callers pattern-match on KindOf(err) to decide policy instead of string
// matching.
package nperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the taxonomy of §7.
type Kind int

// The closed set of error kinds.
const (
	_ Kind = iota
	Usage
	NotFound
	Ambiguous
	AlreadyExists
	Malformed
	IOError
	FetchError
	BuildError
	DependencyError
	StateConflict
	Protected
)

func (k Kind) String() string {
	switch k {
	case Usage:
		return "UsageError"
	case NotFound:
		return "NotFound"
	case Ambiguous:
		return "Ambiguous"
	case AlreadyExists:
		return "AlreadyExists"
	case Malformed:
		return "Malformed"
	case IOError:
		return "IOError"
	case FetchError:
		return "FetchError"
	case BuildError:
		return "BuildError"
	case DependencyError:
		return "DependencyError"
	case StateConflict:
		return "StateConflict"
	case Protected:
		return "Protected"
	default:
		return "Unknown"
	}
}

// Error is a kinded error: it carries one of the Kind values above plus a
// human message and an optional wrapped cause.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

// New creates a kinded error with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to cause, preserving cause as the error chain via
// pkg/errors so %+v still prints a stack trace for the original failure.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf reports the error kind of err, or 0 if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return 0
}

// Is reports whether err (or something it wraps) carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
