package reconnect

import "codeberg.org/mutker/modemtemp/internal/errors"

const (
	ErrExhausted = errors.ErrorCode("reconnect_exhausted")
	ErrCanceled  = errors.ErrorCode("reconnect_canceled")
)
