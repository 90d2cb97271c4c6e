package errors_test

import (
	"fmt"
	"io"
	"testing"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryMessages(t *testing.T) {
	f := errors.New()

	assert.Equal(t, "Daemon is already running", f.New(errors.ErrAlreadyRunning).Error())
	assert.Equal(t, "custom", f.WithMessage(errors.ErrInternal, "custom").Error())
	assert.Equal(t, "Unsupported baud rate: 1200", f.WithData(errors.ErrInvalidBaudRate, 1200).Error())
	assert.Equal(t, "baud 1200", f.Newf(errors.ErrInvalidBaudRate, "baud %d", 1200).Error())
	assert.Equal(t, "unknown_code", errors.GetErrorMessage("unknown_code"))
}

func TestWrapKeepsCause(t *testing.T) {
	err := errors.New().Wrap(errors.ErrReadConfig, io.ErrUnexpectedEOF)

	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Contains(t, err.Error(), "Failed to read configuration")
	assert.Contains(t, err.Error(), io.ErrUnexpectedEOF.Error())
}

func TestCodeLookup(t *testing.T) {
	inner := errors.New().New(errors.ErrTimeout)
	outer := fmt.Errorf("exchange: %w", errors.New().Wrap(errors.ErrOperationFailed, inner))

	assert.Equal(t, errors.ErrOperationFailed, errors.CodeOf(outer))
	assert.True(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(outer, errors.ErrAlreadyRunning))
	assert.Equal(t, errors.ErrorCode(""), errors.CodeOf(io.EOF))
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := errors.New().New(errors.ErrAlreadyRunning)
	err := errors.New().WithData(errors.ErrAlreadyRunning, 1234)

	require.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, errors.New().New(errors.ErrLockFailed)))
}
