package outbox

import (
	"errors"

	"github.com/taskforge/sync/internal/forge"
	"github.com/taskforge/sync/internal/sheet"
)

// outcome classifies a handler error into the Dispatcher's retry/dead-letter
// decision, per spec.md §4.4 step 4-5 and §7's error-kind table.
type outcome int

const (
	outcomeTransient outcome = iota // timeout, rate-limit, 5xx: retry with backoff
	outcomePermanent                // 4xx other than 429, malformed payload, deleted remote object: dead-letter
)

// classify inspects err against both gateways' typed error taxonomies and
// returns the retry/dead-letter decision a handler's error maps to. A nil
// err is never passed here; callers only classify on failure.
func classify(err error) outcome {
	switch {
	case errors.Is(err, forge.ErrRateLimited), errors.Is(err, sheet.ErrRateLimited):
		return outcomeTransient
	case errors.Is(err, forge.ErrTransient), errors.Is(err, sheet.ErrTransient):
		return outcomeTransient
	case errors.Is(err, sheet.ErrBrokerClosed):
		return outcomeTransient
	case errors.Is(err, forge.ErrUnauthorized), errors.Is(err, sheet.ErrUnauthorized):
		return outcomePermanent
	case errors.Is(err, forge.ErrNotFound), errors.Is(err, sheet.ErrNotFound):
		return outcomePermanent
	case errors.Is(err, forge.ErrConflict), errors.Is(err, sheet.ErrConflict):
		return outcomePermanent
	case errors.Is(err, forge.ErrInvalidRequest), errors.Is(err, sheet.ErrInvalidRequest):
		return outcomePermanent
	case errors.Is(err, errInvalidTask):
		return outcomePermanent
	default:
		// Unrecognized errors (e.g. a local marshal failure) are treated as
		// transient: safer to retry a handful of times than to dead-letter on
		// a class of error the taxonomy has no opinion on.
		return outcomeTransient
	}
}

// isRemoteNotFound reports whether err means the external object a mapping
// pointed to is gone — spec.md §7's "NotFound on remote reference" case,
// which marks the mapping's sync status as error in addition to
// dead-lettering the event.
func isRemoteNotFound(err error) bool {
	return errors.Is(err, forge.ErrNotFound) || errors.Is(err, sheet.ErrNotFound)
}
