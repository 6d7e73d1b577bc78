package domain

import (
	"errors"
	"fmt"
)

// Kind categorizes a domain error so callers can render kind-specific
// feedback instead of a generic failure.
type Kind string

const (
	// KindInvalidInput indicates an empty or malformed field.
	KindInvalidInput Kind = "INVALID_INPUT"

	// KindCapacityExceeded indicates the active-habit cap was hit.
	KindCapacityExceeded Kind = "CAPACITY_EXCEEDED"

	// KindAlreadyDisrupted indicates an episode open was attempted
	// while another episode is still open.
	KindAlreadyDisrupted Kind = "ALREADY_DISRUPTED"

	// KindNotFound indicates an update was expected on a record that
	// does not exist. Deletions of missing records are no-ops, not
	// errors.
	KindNotFound Kind = "NOT_FOUND"

	// KindCollaboratorUnavailable indicates the persistence layer or a
	// remote classifier was unreachable or timed out.
	KindCollaboratorUnavailable Kind = "COLLABORATOR_UNAVAILABLE"
)

// Error is a structured domain error: a kind plus a human-readable
// message. Invariant violations are returned as these, never silently
// clamped.
type Error struct {
	Kind    Kind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// E builds a domain error of the given kind.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, unwrapping as needed. It returns
// the empty Kind for non-domain errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err is a domain error of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
