package store

import "errors"

var (
	// ErrNotFound is returned for lookups of names/ids that do not exist.
	// First-touch of an unknown document name is not an error for writers;
	// SaveDocument upserts.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable wraps connection-level failures of the backend.
	// Callers retry with backoff; see Retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
