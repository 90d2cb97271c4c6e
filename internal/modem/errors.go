package modem

import "codeberg.org/mutker/modemtemp/internal/errors"

const (
	// Lifecycle Errors
	ErrOpenFailed = errors.ErrorCode("modem_open_failed")
	ErrClosed     = errors.ErrorCode("modem_closed")

	// Exchange Errors
	ErrIOFailed = errors.ErrorCode("modem_io_failed")
	ErrTimeout  = errors.ErrorCode("modem_timeout")
)
