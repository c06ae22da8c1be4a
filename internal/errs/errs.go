// Package errs defines the error taxonomy shared by every layer of the
// repository: storage, serialization, worker signalling, hash-index
// contention, operator-facing messages, and detected corruption.
package errs

import (
	"fmt"

	"github.com/go-stack/stack"
)

// Kind classifies an Error. See spec §7.
type Kind int

const (
	// Storage covers backend or index I/O failures.
	Storage Kind = iota
	// Serialization covers malformed on-disk records.
	Serialization
	// Channel covers internal worker signalling failure.
	Channel
	// Retry signals transient hash-index contention. Never user-visible;
	// always absorbed by a retry loop before it escapes a package boundary.
	Retry
	// Message is an operator-facing string with no more specific kind.
	Message
	// Corruption marks a hash mismatch on fetch or another invariant
	// violation.
	Corruption
)

func (k Kind) String() string {
	switch k {
	case Storage:
		return "storage"
	case Serialization:
		return "serialization"
	case Channel:
		return "channel"
	case Retry:
		return "retry"
	case Message:
		return "message"
	case Corruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// Error is the concrete error type produced by this repository's packages.
type Error struct {
	Kind  Kind
	msg   string
	cause error
	frame stack.CallStack
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
	if kind == Corruption {
		e.frame = stack.Trace().TrimRuntime()
	}
	return e
}

// Wrap attaches kind and context to an existing error.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	e := New(kind, format, args...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Fatal reports whether the error represents an invariant violation that
// the caller must not attempt to recover from (e.g. a double commit with
// differing ChunkRefs, or detected on-disk corruption of a Committed row).
func (e *Error) Fatal() bool {
	return e.Kind == Corruption
}

// StackTrace returns the captured call stack for a Corruption error, or
// nil for any other kind.
func (e *Error) StackTrace() stack.CallStack { return e.frame }

// Is reports whether the first *Error found along err's Unwrap chain has
// the given Kind. Kinds of errors wrapped inside that *Error are not
// consulted.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
