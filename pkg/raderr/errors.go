// Package raderr defines the error taxonomy shared by every core package.
//
// The core never returns a bare nil, nil or swallows a failure: every
// operation that can fail returns one of these kinds, built as an *Error
// by the New/Wrap constructors below, so callers can match with
// errors.Is/errors.As instead of string-sniffing a message.
package raderr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error classes from the error-handling design.
type Kind string

const (
	// KindVerificationFailed covers sigrefs mismatch, signature failure,
	// missing ref, or dangling object during a fetch. Fatal for that
	// fetch only; the transaction is rolled back.
	KindVerificationFailed Kind = "verification_failed"

	// KindQuorumNotMet is returned when a canonical identity advance is
	// attempted without enough delegate signatures. Recoverable.
	KindQuorumNotMet Kind = "quorum_not_met"

	// KindNotADelegate is returned when a delegate-only action is
	// attempted directly by a non-delegate caller. Entries of this kind
	// that arrive via replication are stored but ignored during fold.
	KindNotADelegate Kind = "not_a_delegate"

	// KindStale is returned for vote/edit/redact on a revision that has
	// already transitioned to stale.
	KindStale Kind = "stale"

	// KindConflictingThreshold is returned when an identity update would
	// raise the threshold above the proposed delegate count.
	KindConflictingThreshold Kind = "conflicting_threshold"

	// KindNotFound is returned when an object, entry, or repository
	// cannot be resolved.
	KindNotFound Kind = "not_found"

	// KindStorageTransient covers lock contention or I/O interruption.
	// Callers may retry with bounded backoff.
	KindStorageTransient Kind = "storage_transient"

	// KindUnauthorized is returned for private-repo access without
	// delegate/allow-list membership. Fatal for that fetch.
	KindUnauthorized Kind = "unauthorized"
)

// Error is the concrete type every core operation returns on failure.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match another *Error of the same Kind. A bare Kind
// is not an error value; match one with the package-level Is function.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind with a human-readable reason.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs an *Error of the given kind that also chains a cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
