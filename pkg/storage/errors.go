package storage

import "errors"

// Sentinel errors returned by both engines. Callers classify with errors.Is;
// wrapped messages carry the offending ID.
var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned when a write collides with existing state:
	// duplicate IDs, deleting a parent without cascade, attaching a second
	// embedding without replace, or reparenting a node.
	ErrConflict = errors.New("storage: conflict")

	// ErrUnavailable is returned when a backing service cannot be reached.
	ErrUnavailable = errors.New("storage: unavailable")

	// ErrInvalidDimension is returned when an embedding's length does not
	// match the configured model dimensionality.
	ErrInvalidDimension = errors.New("storage: invalid embedding dimension")

	// ErrInconsistentState signals a broken derived index: an index row
	// referencing an entity that no longer exists.
	ErrInconsistentState = errors.New("storage: inconsistent state")

	// ErrInvalidID is returned for empty or malformed identifiers.
	ErrInvalidID = errors.New("storage: invalid ID")

	// ErrInvalidData is returned for payloads that fail validation.
	ErrInvalidData = errors.New("storage: invalid data")

	// ErrStorageClosed is returned after Close.
	ErrStorageClosed = errors.New("storage: closed")
)
