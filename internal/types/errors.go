package types

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy of §7: a small closed set callers switch on
// with errors.As, independent of the wrapped message chain.
type Kind string

const (
	// KindPrecondition: caller passed an unknown kind, malformed timestamp,
	// or a record missing its primary key. Fail fast, no side effects.
	KindPrecondition Kind = "precondition"
	// KindStoreFailure: connectivity, query, or constraint error from the
	// store. Abort the current operation; roll back if inside a transaction.
	KindStoreFailure Kind = "store_failure"
	// KindValidationFailure: the Dependency Validator returned
	// safe_to_restore = false. The Executor does not run.
	KindValidationFailure Kind = "validation_failure"
	// KindIntegrityFailure: a per-batch or final Executor gate failed.
	KindIntegrityFailure Kind = "integrity_failure"
	// KindAborted: a cancellation signal was observed.
	KindAborted Kind = "aborted"
)

// Error is a taxonomy-tagged error. Low confidence is deliberately not a
// Kind here: per §7 it is a warning surfaced on the result, never an error
// value.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Precondition builds a KindPrecondition failure from a formatted message.
func Precondition(op string, format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Op: op, Err: fmt.Errorf(format, args...)}
}

// StoreFailure wraps a store-layer error.
func StoreFailure(op string, err error) *Error {
	return &Error{Kind: KindStoreFailure, Op: op, Err: err}
}

// ValidationFailure wraps a dependency-validator rejection.
func ValidationFailure(op string, err error) *Error {
	return &Error{Kind: KindValidationFailure, Op: op, Err: err}
}

// IntegrityFailure wraps an executor gate failure, naming which gate.
func IntegrityFailure(op, gate string, err error) *Error {
	return &Error{Kind: KindIntegrityFailure, Op: op, Err: fmt.Errorf("gate %q: %w", gate, err)}
}

// Aborted wraps a cancellation.
func Aborted(op string, err error) *Error {
	if err == nil {
		err = fmt.Errorf("operation cancelled")
	}
	return &Error{Kind: KindAborted, Op: op, Err: err}
}

// IsKind reports whether err's taxonomy Kind matches k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
