package repairerr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserInformationErrorMessage(t *testing.T) {
	err := NewUserInformation(HelpMissingDblockFiles, "%d volumes missing", 3)
	assert.Equal(t, "MissingDblockFiles: 3 volumes missing", err.Error())

	bare := &UserInformationError{HelpID: HelpDatabaseDoesNotExist}
	assert.Equal(t, HelpDatabaseDoesNotExist, bare.Error())
}

func TestUserInformationErrorIsMatchesByHelpID(t *testing.T) {
	err := NewUserInformation(HelpRepairIsNotPossible, "detail")

	assert.True(t, errors.Is(err, &UserInformationError{HelpID: HelpRepairIsNotPossible}))
	assert.False(t, errors.Is(err, &UserInformationError{HelpID: HelpDatabaseDoesNotExist}))
	assert.True(t, errors.Is(err, &UserInformationError{}))
}

func TestIsAbort(t *testing.T) {
	assert.True(t, IsAbort(context.Canceled))
	assert.True(t, IsAbort(context.DeadlineExceeded))
	assert.True(t, IsAbort(fmtWrap(context.Canceled)))
	assert.False(t, IsAbort(errors.New("boom")))
	assert.False(t, IsAbort(nil))
}

func fmtWrap(err error) error {
	return &ItemError{Tag: TagFileAccessError, Err: err}
}

func TestItemWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Item(TagRemoteFileAccessError, cause)
	require := assert.New(t)
	require.Error(wrapped)
	require.Contains(wrapped.Error(), TagRemoteFileAccessError)
	require.ErrorIs(wrapped, cause)

	assert.Nil(t, Item(TagRemoteFileAccessError, nil))
}

func TestInternalConsistencyError(t *testing.T) {
	err := NewInternalConsistency("hash mismatch for %s", "block-1")
	assert.Contains(t, err.Error(), "hash mismatch for block-1")
}
