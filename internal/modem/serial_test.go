package modem

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

type fakePort struct {
	mu          sync.Mutex
	replies     []string
	written     []string
	readErr     error
	closed      int
	inputResets int
	pollDelay   time.Duration
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.replies) == 0 {
		time.Sleep(f.pollDelay)
		return 0, nil
	}

	n := copy(p, f.replies[0])
	f.replies[0] = f.replies[0][n:]
	if f.replies[0] == "" {
		f.replies = f.replies[1:]
	}

	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, string(p))
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (*fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputResets++
	return nil
}

func (*fakePort) ResetOutputBuffer() error { return nil }

func useFakePort(t *testing.T, fake *fakePort) *serial.Mode {
	t.Helper()

	var got serial.Mode
	orig := openPort
	openPort = func(_ string, mode *serial.Mode) (portHandle, error) {
		got = *mode
		return fake, nil
	}
	t.Cleanup(func() { openPort = orig })

	return &got
}

func TestOpenConfiguresFraming(t *testing.T) {
	mode := useFakePort(t, &fakePort{})

	p, err := Open("/dev/ttyUSB2", 115200)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, "/dev/ttyUSB2", p.Target())
}

func TestOpenFailure(t *testing.T) {
	orig := openPort
	openPort = func(string, *serial.Mode) (portHandle, error) {
		return nil, io.ErrUnexpectedEOF
	}
	t.Cleanup(func() { openPort = orig })

	_, err := Open("/dev/ttyUSB9", 115200)
	require.Error(t, err)
	assert.Equal(t, ErrOpenFailed, errors.CodeOf(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestExchangeReadsUntilOK(t *testing.T) {
	fake := &fakePort{replies: []string{
		"AT+QTEMP\r\r\n+QTEMP: \"modem-ambient-usr\",\"38\"\r\n",
		"+QTEMP: \"cpuss-0-usr\",\"41\"\r\n\r\nOK\r\n",
		"+QTEMP: \"late\",\"1\"\r\n",
	}}
	useFakePort(t, fake)

	p, err := Open("/dev/ttyUSB2", 115200)
	require.NoError(t, err)
	defer p.Close()

	resp, err := p.Exchange(context.Background(), "AT+QTEMP")
	require.NoError(t, err)
	assert.Contains(t, string(resp), "cpuss-0-usr")
	assert.NotContains(t, string(resp), "late")
	assert.Equal(t, []string{"AT+QTEMP\r"}, fake.written)
	assert.Equal(t, 1, fake.inputResets, "stale input is cleared before writing")
}

func TestExchangeStopsOnError(t *testing.T) {
	useFakePort(t, &fakePort{replies: []string{"\r\nERROR\r\n"}})

	p, err := Open("/dev/ttyUSB2", 115200)
	require.NoError(t, err)
	defer p.Close()

	resp, err := p.Exchange(context.Background(), "AT+QTEMP")
	require.NoError(t, err)
	assert.Equal(t, "\r\nERROR\r\n", string(resp))
}

func TestExchangeTimeout(t *testing.T) {
	useFakePort(t, &fakePort{
		replies:   []string{"+QTEMP: \"modem-ambient-usr\",\"38\"\r\n"},
		pollDelay: 5 * time.Millisecond,
	})

	p, err := Open("/dev/ttyUSB2", 115200, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	resp, err := p.Exchange(context.Background(), "AT+QTEMP")
	require.Error(t, err)
	assert.Equal(t, ErrTimeout, errors.CodeOf(err))
	assert.NotEmpty(t, resp)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExchangeReadError(t *testing.T) {
	useFakePort(t, &fakePort{readErr: io.ErrClosedPipe})

	p, err := Open("/dev/ttyUSB2", 115200)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Exchange(context.Background(), "AT+QTEMP")
	require.Error(t, err)
	assert.Equal(t, ErrIOFailed, errors.CodeOf(err))
}

func TestExchangeHonoursCancellation(t *testing.T) {
	useFakePort(t, &fakePort{pollDelay: 5 * time.Millisecond})

	p, err := Open("/dev/ttyUSB2", 115200)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Exchange(ctx, "AT+QTEMP")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), DefaultTimeout)
}

func TestExchangeBoundsBuffer(t *testing.T) {
	useFakePort(t, &fakePort{replies: []string{strings.Repeat("x", MaxResponseSize+100)}})

	p, err := Open("/dev/ttyUSB2", 115200)
	require.NoError(t, err)
	defer p.Close()

	resp, err := p.Exchange(context.Background(), "AT+QTEMP")
	require.NoError(t, err)
	assert.Len(t, resp, MaxResponseSize)
}

func TestCloseIsIdempotent(t *testing.T) {
	fake := &fakePort{}
	useFakePort(t, fake)

	p, err := Open("/dev/ttyUSB2", 115200)
	require.NoError(t, err)

	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.NotPanics(t, func() { _ = p.Close() })
	assert.Equal(t, 1, fake.closed)

	_, err = p.Exchange(context.Background(), "AT+QTEMP")
	require.Error(t, err)
	assert.Equal(t, ErrClosed, errors.CodeOf(err))
}

func TestHasFinalResult(t *testing.T) {
	assert.True(t, hasFinalResult([]byte("+QTEMP: \"a\",\"1\"\r\nOK\r\n")))
	assert.True(t, hasFinalResult([]byte("+QTEMP:\nOK")))
	assert.True(t, hasFinalResult([]byte("ERROR")))
	assert.True(t, hasFinalResult([]byte("\r\n+CME ERROR: 10\r\n")))
	assert.False(t, hasFinalResult([]byte("+QTEMP: \"OK-sensor\",\"1\"\r\n")))
	assert.False(t, hasFinalResult(nil))
}
