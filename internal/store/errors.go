package store

import "errors"

// Sentinel errors for store operations. Callers use errors.Is to distinguish
// validation failures (reject before commit) from infrastructure failures
// (retry/transient).
var (
	// ErrNotFound is returned when a lookup by id/email/reference finds nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrEmailExists is returned when upserting a Member whose email already
	// belongs to a different MemberID.
	ErrEmailExists = errors.New("store: email already belongs to another member")

	// ErrMappingRefImmutable is returned when attempting to change a forge or
	// sheet reference that is already set on a Mapping.
	ErrMappingRefImmutable = errors.New("store: mapping reference is immutable once set")

	// ErrMappingRefConflict is returned when the forge or sheet reference being
	// set already belongs to a different Task's Mapping.
	ErrMappingRefConflict = errors.New("store: external reference already bound to another task")

	// ErrUnknownTable is returned when a SheetTableRef does not match a
	// registered SheetTableRegistryEntry.
	ErrUnknownTable = errors.New("store: sheet table is not registered")

	// ErrOutboxAlreadyClaimed is returned by CompleteOutbox when the event is
	// not in the processing state the caller expects (e.g. reclaimed by
	// another worker or already completed).
	ErrOutboxAlreadyClaimed = errors.New("store: outbox event is not in the expected processing state")

	// ErrTaskInFlight names the case where claim's per-task predicate blocks
	// an event because another event for the same task is in flight.
	// ClaimOutbox skips such events and does not return this error.
	ErrTaskInFlight = errors.New("store: another event for this task is already in flight")
)
