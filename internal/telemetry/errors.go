package telemetry

import "codeberg.org/mutker/modemtemp/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidListen = errors.ErrorCode("telemetry_invalid_listen")

	// Server Errors
	ErrListenFailed    = errors.ErrorCode("telemetry_listen_failed")
	ErrServiceShutdown = errors.ErrorCode("telemetry_service_shutdown_failed")

	// Collection Errors
	ErrRegisterFailed = errors.ErrorCode("telemetry_register_failed")
	ErrBroadcast      = errors.ErrorCode("telemetry_broadcast_failed")
)
