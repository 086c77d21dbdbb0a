package outbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskforge/sync/internal/forge"
	"github.com/taskforge/sync/internal/sheet"
)

func TestClassifyTransient(t *testing.T) {
	cases := []error{
		forge.ErrRateLimited,
		sheet.ErrRateLimited,
		forge.ErrTransient,
		sheet.ErrTransient,
		sheet.ErrBrokerClosed,
		errors.New("some unrelated local error"),
	}

	for _, err := range cases {
		require.Equal(t, outcomeTransient, classify(err), "expected transient for %v", err)
	}
}

func TestClassifyPermanent(t *testing.T) {
	cases := []error{
		forge.ErrUnauthorized,
		sheet.ErrUnauthorized,
		forge.ErrNotFound,
		sheet.ErrNotFound,
		forge.ErrConflict,
		sheet.ErrConflict,
		forge.ErrInvalidRequest,
		sheet.ErrInvalidRequest,
	}

	for _, err := range cases {
		require.Equal(t, outcomePermanent, classify(err), "expected permanent for %v", err)
	}
}

func TestClassifyWrappedError(t *testing.T) {
	wrapped := errors.New("outbox: handle forgeCreateIssue: " + forge.ErrNotFound.Error())
	require.Equal(t, outcomeTransient, classify(wrapped), "a plain string-wrapped error is not errors.Is-matchable, so it falls back to transient")

	trueWrap := errorsJoinForTest(forge.ErrConflict)
	require.Equal(t, outcomePermanent, classify(trueWrap))
}

func errorsJoinForTest(err error) error {
	return errors.Join(err)
}

func TestIsRemoteNotFound(t *testing.T) {
	require.True(t, isRemoteNotFound(forge.ErrNotFound))
	require.True(t, isRemoteNotFound(sheet.ErrNotFound))
	require.False(t, isRemoteNotFound(forge.ErrConflict))
	require.False(t, isRemoteNotFound(nil))
}
