package domain

import "errors"

// Sentinel errors shared across the scheduling core.
// Check with errors.Is.
var (
	// ErrInvalidRating marks a rating outside 1-4. This is a
	// programming error on the caller's side, never recovered from.
	ErrInvalidRating = errors.New("invalid rating")

	// ErrCardNotFound marks an operation against an unknown card id.
	ErrCardNotFound = errors.New("card not found")

	// ErrStoreUnavailable marks a store that cannot be reached. The
	// user can retry once connectivity returns.
	ErrStoreUnavailable = errors.New("store unreachable")
)
