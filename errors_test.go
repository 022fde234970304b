package blockfs_test

import (
	"errors"
	"testing"

	"github.com/dargueta/blockfs"
	"github.com/stretchr/testify/assert"
)

func TestBlockfsErrorWithMessage(t *testing.T) {
	newErr := blockfs.ErrNotAllocated.WithMessage("block 12")
	assert.Equal(
		t, "Block not allocated: block 12", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, blockfs.ErrNotAllocated)
	assert.NotErrorIs(t, newErr, blockfs.ErrNotFound)
}

func TestBlockfsErrorWrap(t *testing.T) {
	originalErr := errors.New("original error")
	newErr := blockfs.ErrIOFailed.Wrap(originalErr)
	expectedMessage := "Input/output error: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, blockfs.ErrIOFailed, "blockfs error not set as parent")
}

func TestBlockfsErrorChainedContext(t *testing.T) {
	originalErr := errors.New("disk on fire")
	newErr := blockfs.ErrIOFailed.Wrap(originalErr).WithMessage("flushing image")

	assert.Equal(
		t, "Input/output error: disk on fire: flushing image", newErr.Error())
	assert.ErrorIs(t, newErr, originalErr)
	assert.ErrorIs(t, newErr, blockfs.ErrIOFailed)
}

func TestBlockfsErrorsAreDistinct(t *testing.T) {
	taxonomy := []error{
		blockfs.ErrOutOfRange,
		blockfs.ErrNoSpaceOnDevice,
		blockfs.ErrNotFound,
		blockfs.ErrExists,
		blockfs.ErrNotAllocated,
		blockfs.ErrAtRoot,
		blockfs.ErrPayloadTooLarge,
		blockfs.ErrInvalidArgument,
		blockfs.ErrIOFailed,
	}

	for i, left := range taxonomy {
		for j, right := range taxonomy {
			if i == j {
				continue
			}
			assert.NotErrorIsf(t, left, right, "%q must not match %q", left, right)
		}
	}
}
