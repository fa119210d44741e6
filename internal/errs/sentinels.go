// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSyncInProgress indicates another sync already holds the per-account flag.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrStaleToken indicates the presented sync token does not match the stored
	// epoch; the caller must fall back to a full sync.
	ErrStaleToken = errors.New("stale sync token")

	// ErrValidation indicates a request rejected before any mutation.
	ErrValidation = errors.New("validation")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username or device taken).
	ErrAlreadyExists = errors.New("already exists")
)
