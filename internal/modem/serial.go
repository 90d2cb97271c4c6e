package modem

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/logger"
	"go.bug.st/serial"
)

const (
	// DefaultTimeout bounds one command exchange
	DefaultTimeout = 5 * time.Second

	// MaxResponseSize bounds the reply buffer
	MaxResponseSize = 1024

	pollInterval = 100 * time.Millisecond
	chunkSize    = 256
)

// openPort is replaced in tests
var openPort = func(name string, mode *serial.Mode) (portHandle, error) {
	return serial.Open(name, mode)
}

// Port is an open serial connection to the modem's AT interface
type Port struct {
	mu      sync.Mutex
	handle  portHandle
	target  string
	baud    int
	timeout time.Duration
}

// Option customises a Port
type Option func(*Port)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(p *Port) {
		p.timeout = d
	}
}

// Open configures target for 8N1 raw framing without flow control
func Open(target string, baud int, opts ...Option) (*Port, error) {
	errFactory := errors.New()

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	handle, err := openPort(target, mode)
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenFailed, err).WithData(target)
	}

	if err := handle.SetReadTimeout(pollInterval); err != nil {
		handle.Close()
		return nil, errFactory.Wrap(ErrOpenFailed, err).WithData(target)
	}

	p := &Port{
		handle:  handle,
		target:  target,
		baud:    baud,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	logger.Info().
		Str("port", target).
		Int("baud", baud).
		Msg("Serial port opened")

	return p, nil
}

// Target returns the device path
func (p *Port) Target() string {
	return p.target
}

// Exchange discards stale input, writes command terminated by a carriage
// return and reads until the modem's final result line or the timeout.
// A full buffer ends the read early and returns what was collected.
func (p *Port) Exchange(ctx context.Context, command string) ([]byte, error) {
	errFactory := errors.New()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil {
		return nil, errFactory.New(ErrClosed)
	}

	if err := p.handle.ResetInputBuffer(); err != nil {
		return nil, errFactory.Wrap(ErrIOFailed, err)
	}

	request := []byte(command + "\r")
	n, err := p.handle.Write(request)
	if err != nil {
		return nil, errFactory.Wrap(ErrIOFailed, err)
	}
	if n != len(request) {
		return nil, errFactory.Newf(ErrIOFailed, "short write: %d of %d bytes", n, len(request))
	}

	buf := make([]byte, 0, MaxResponseSize)
	chunk := make([]byte, chunkSize)
	deadline := time.Now().Add(p.timeout)

	for {
		if err := ctx.Err(); err != nil {
			return buf, errFactory.Wrap(ErrIOFailed, err)
		}
		if !time.Now().Before(deadline) {
			return buf, errFactory.WithData(ErrTimeout, len(buf))
		}

		n, err := p.handle.Read(chunk)
		if err != nil {
			return buf, errFactory.Wrap(ErrIOFailed, err)
		}
		if n == 0 {
			continue
		}

		room := MaxResponseSize - len(buf)
		if n >= room {
			buf = append(buf, chunk[:room]...)
			logger.Debug().Int("bytes", len(buf)).Msg("Response buffer full")
			return buf, nil
		}
		buf = append(buf, chunk[:n]...)

		if hasFinalResult(buf) {
			return buf, nil
		}
	}
}

// Close flushes both directions and releases the device. Calling it on a
// closed port does nothing.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil {
		return nil
	}

	if err := p.handle.ResetOutputBuffer(); err != nil {
		logger.Debug().Err(err).Msg("Failed to flush serial output")
	}
	if err := p.handle.ResetInputBuffer(); err != nil {
		logger.Debug().Err(err).Msg("Failed to flush serial input")
	}
	if err := p.handle.Close(); err != nil {
		logger.Warn().Err(err).Str("port", p.target).Msg("Failed to close serial port")
	}
	p.handle = nil

	logger.Info().Str("port", p.target).Msg("Serial port closed")

	return nil
}

// hasFinalResult reports whether buf holds an OK or error result line
func hasFinalResult(buf []byte) bool {
	lines := strings.FieldsFunc(string(buf), func(r rune) bool {
		return r == '\r' || r == '\n'
	})

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "OK" || line == "ERROR" ||
			strings.HasPrefix(line, "+CME ERROR") || strings.HasPrefix(line, "+CMS ERROR") {
			return true
		}
	}

	return false
}
