package modem

import (
	"context"
	"io"
	"time"
)

// Transport sends one AT command and returns the raw reply
type Transport interface {
	Exchange(ctx context.Context, command string) ([]byte, error)
	Close() error
}

// portHandle is the subset of serial.Port used here, narrowed so tests can
// substitute a fake device.
type portHandle interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}
