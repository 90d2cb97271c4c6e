package temperature

import "codeberg.org/mutker/modemtemp/internal/errors"

const (
	// Parse Errors
	ErrInvalidFormat = errors.ErrorCode("temperature_invalid_format")
	ErrOutOfRange    = errors.ErrorCode("temperature_out_of_range")

	// Selection Errors
	ErrNoData                 = errors.ErrorCode("temperature_no_data")
	ErrSelectionOutOfRange    = errors.ErrorCode("temperature_selection_out_of_range")
	ErrUnknownSelectionPolicy = errors.ErrInvalidPolicy
)
