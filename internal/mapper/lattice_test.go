package mapper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/sync/internal/store"
)

func TestStatusToForgeStateAndBack(t *testing.T) {
	tests := []struct {
		name          string
		status        store.TaskStatus
		wasInProgress bool
	}{
		{name: "todo", status: store.StatusToDo, wasInProgress: false},
		{name: "in progress", status: store.StatusInProgress, wasInProgress: true},
		{name: "done", status: store.StatusDone},
		{name: "cancelled", status: store.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := StatusToForgeState(tt.status)

			back, err := ForgeStateToStatus(fs, tt.wasInProgress)
			require.NoError(t, err)
			assert.Equal(t, tt.status, back)
		})
	}
}

func TestForgeStateToStatusOpenTieBreak(t *testing.T) {
	todo, err := ForgeStateToStatus(ForgeState{State: "open"}, false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusToDo, todo)

	inProgress, err := ForgeStateToStatus(ForgeState{State: "open"}, true)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, inProgress)
}

func TestForgeStateToStatusUnknown(t *testing.T) {
	_, err := ForgeStateToStatus(ForgeState{State: "closed", StateReason: "duplicate"}, false)
	assert.True(t, errors.Is(err, ErrUnknownForgeState))
}

func TestSheetStringStatusRoundTrip(t *testing.T) {
	for _, status := range []store.TaskStatus{
		store.StatusToDo, store.StatusInProgress, store.StatusDone, store.StatusCancelled,
	} {
		s := StatusToSheetString(status)

		back, err := SheetStringToStatus(s)
		require.NoError(t, err)
		assert.Equal(t, status, back)
	}
}

func TestSheetStringToStatusUnknown(t *testing.T) {
	_, err := SheetStringToStatus("Blocked")
	assert.True(t, errors.Is(err, ErrUnknownSheetStatus))
}
