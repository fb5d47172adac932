package storage

import "errors"

var (
	// ErrNotFound means the requested key does not exist in the bucket.
	ErrNotFound = errors.New("template not found")

	// ErrInvalidKey means the key contains path-escaping or empty segments.
	// Rejected before any network call to prevent cross-category writes.
	ErrInvalidKey = errors.New("invalid template key")

	// ErrUnavailable wraps transport-level failures reaching the store.
	ErrUnavailable = errors.New("object store unavailable")
)
