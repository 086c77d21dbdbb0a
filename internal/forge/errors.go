package forge

import "errors"

// Sentinel error kinds surfaced by the Forge Gateway. Handlers in
// internal/outbox classify a returned error with errors.Is against these to
// decide retry/dead-letter policy.
var (
	// ErrUnauthorized means the forge token was rejected.
	ErrUnauthorized = errors.New("forge: unauthorized")

	// ErrNotFound means the referenced repo or issue does not exist.
	ErrNotFound = errors.New("forge: not found")

	// ErrConflict means the request could not be applied as given (e.g. an
	// issue number already claimed by a different task's mapping).
	ErrConflict = errors.New("forge: conflict")

	// ErrRateLimited means the gateway's single internal retry on 429/403
	// was exhausted; the caller should back off and retry later.
	ErrRateLimited = errors.New("forge: rate limited")

	// ErrTransient covers timeouts and 5xx responses: safe to retry.
	ErrTransient = errors.New("forge: transient failure")

	// ErrInvalidRequest means the forge API rejected the request body
	// (422 or similar); retrying unchanged will not help.
	ErrInvalidRequest = errors.New("forge: invalid request")
)
