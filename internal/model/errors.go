package model

import "errors"

// Outcome taxonomy shared by every layer.  Services wrap these with
// context using fmt.Errorf("%s: %w", op, err); handlers compare with
// errors.Is and map each kind to a single transport status.
var (
	// ErrUnauthenticated covers missing, forged, expired or malformed
	// access tokens, unknown or already-consumed refresh tokens and bad
	// login credentials.  The specific reason is never exposed.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the caller is known but inactive or lacks the
	// required role or ownership.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict signals a duplicate unique field or a second active
	// review for the same author and product.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDomainInvariant reports that a derived-state write could not be
	// applied, e.g. a rating recompute for a missing or inactive product.
	ErrDomainInvariant = errors.New("domain invariant violation")

	// ErrStorageUnavailable wraps connectivity and transaction failures
	// from the record store.  Callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidInput rejects malformed request data before any state change.
	ErrInvalidInput = errors.New("invalid input")
)
