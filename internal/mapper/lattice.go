// Package mapper implements the pure, deterministic field and status
// translation shared by the Outbox Dispatcher's push handlers and the
// Reconciler's pull handlers: task <-> forge issue, and task <-> sheet
// record.
package mapper

import (
	"errors"

	"github.com/taskforge/sync/internal/store"
)

// Sentinel errors for status lattice translation.
var (
	// ErrUnknownForgeState is returned when a forge (state, stateReason) pair
	// does not correspond to any status in the lattice.
	ErrUnknownForgeState = errors.New("mapper: unrecognized forge state")

	// ErrUnknownSheetStatus is returned when a sheet status string does not
	// correspond to any status in the lattice.
	ErrUnknownSheetStatus = errors.New("mapper: unrecognized sheet status")
)

// ForgeState is the (state, stateReason) pair a forge issue carries.
type ForgeState struct {
	State       string // "open" or "closed"
	StateReason string // "completed", "not_planned", or empty
}

const (
	forgeStateOpen   = "open"
	forgeStateClosed = "closed"

	forgeReasonCompleted  = "completed"
	forgeReasonNotPlanned = "not_planned"

	sheetStatusToDo       = "To Do"
	sheetStatusInProgress = "In Progress"
	sheetStatusDone       = "Done"
	sheetStatusCancelled  = "Cancelled"
)

// ToDoToInProgressTieBreak decides how a forge "open" state maps back onto
// the internal lattice: InProgress if the task was already InProgress,
// ToDo otherwise. There is no information on the forge side to distinguish
// the two once an issue is open, so prior local state is the only signal.
func ToDoToInProgressTieBreak(wasInProgress bool) store.TaskStatus {
	if wasInProgress {
		return store.StatusInProgress
	}

	return store.StatusToDo
}

// StatusToForgeState maps an internal status to the forge (state,
// stateReason) pair written on push. ToDo and InProgress both write
// "open" — the lattice only distinguishes them locally.
func StatusToForgeState(status store.TaskStatus) ForgeState {
	switch status {
	case store.StatusDone:
		return ForgeState{State: forgeStateClosed, StateReason: forgeReasonCompleted}
	case store.StatusCancelled:
		return ForgeState{State: forgeStateClosed, StateReason: forgeReasonNotPlanned}
	case store.StatusToDo, store.StatusInProgress:
		return ForgeState{State: forgeStateOpen}
	default:
		return ForgeState{State: forgeStateOpen}
	}
}

// ForgeStateToStatus maps a forge (state, stateReason) pair back onto the
// internal lattice on pull. wasInProgress breaks the open -> ToDo/InProgress
// tie per the component design.
func ForgeStateToStatus(fs ForgeState, wasInProgress bool) (store.TaskStatus, error) {
	switch fs.State {
	case forgeStateClosed:
		switch fs.StateReason {
		case forgeReasonCompleted:
			return store.StatusDone, nil
		case forgeReasonNotPlanned:
			return store.StatusCancelled, nil
		default:
			return "", ErrUnknownForgeState
		}
	case forgeStateOpen:
		return ToDoToInProgressTieBreak(wasInProgress), nil
	default:
		return "", ErrUnknownForgeState
	}
}

// StatusToSheetString maps an internal status to the literal string the
// sheet's status column stores.
func StatusToSheetString(status store.TaskStatus) string {
	switch status {
	case store.StatusToDo:
		return sheetStatusToDo
	case store.StatusInProgress:
		return sheetStatusInProgress
	case store.StatusDone:
		return sheetStatusDone
	case store.StatusCancelled:
		return sheetStatusCancelled
	default:
		return sheetStatusToDo
	}
}

// SheetStringToStatus maps a sheet status column value back onto the
// internal lattice.
func SheetStringToStatus(value string) (store.TaskStatus, error) {
	switch value {
	case sheetStatusToDo:
		return store.StatusToDo, nil
	case sheetStatusInProgress:
		return store.StatusInProgress, nil
	case sheetStatusDone:
		return store.StatusDone, nil
	case sheetStatusCancelled:
		return store.StatusCancelled, nil
	default:
		return "", ErrUnknownSheetStatus
	}
}
