package store

import "errors"

// Sentinel errors callers can test with errors.Is. Conflict and ownership
// failures are distinct from not-found so review-queue callers can tell
// "try the next item" apart from "stale reference".
var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClaimConflict is returned when a claim races another validator
	// and loses: the entry was no longer pending at the moment of update.
	ErrClaimConflict = errors.New("entry is no longer pending")

	// ErrNotClaimOwner is returned when completing an entry that is not
	// claimed by the calling validator.
	ErrNotClaimOwner = errors.New("entry is not claimed by this validator")
)
