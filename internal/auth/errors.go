package auth

import (
	"errors"

	"github.com/ocx/zkauth/internal/zkp"
)

// The full error taxonomy seen by the HTTP layer. The protocol-level errors
// are the engine's own sentinels; Conflict and DependencyUnavailable arise
// only in the facade. Handlers collapse the three authentication-path errors
// to one uniform 401.
var (
	ErrInvalidArgument = zkp.ErrInvalidArgument
	ErrSessionNotFound = zkp.ErrSessionNotFound
	ErrBindingMismatch = zkp.ErrBindingMismatch
	ErrProofInvalid    = zkp.ErrProofInvalid

	// ErrConflict marks a duplicate registration.
	ErrConflict = errors.New("username already registered")

	// ErrDependencyUnavailable marks a store, directory, event bus, token
	// issuer, or CPU pool failure.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// IsAuthFailure reports whether err is an authentication rejection rather
// than an infrastructure failure. All three map to the same external 401.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrBindingMismatch) ||
		errors.Is(err, ErrProofInvalid)
}

// Reason renders the internal reason code used in audit events and metrics.
// Never sent to clients.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, ErrBindingMismatch):
		return "BINDING_MISMATCH"
	case errors.Is(err, ErrProofInvalid):
		return "PROOF_INVALID"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	default:
		return "DEPENDENCY_UNAVAILABLE"
	}
}
