package sink

import "codeberg.org/mutker/modemtemp/internal/errors"

const (
	ErrTargetNotFound = errors.ErrorCode("sink_target_not_found")
	ErrWriteFailed    = errors.ErrorCode("sink_write_failed")
	ErrWritePending   = errors.ErrorCode("sink_write_pending")
	ErrNotConnected   = errors.ErrorCode("sink_not_connected")
	ErrConnectFailed  = errors.ErrorCode("sink_connect_failed")
)
