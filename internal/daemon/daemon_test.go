package daemon_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/daemon"
	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/kmod"
	"codeberg.org/mutker/modemtemp/internal/logger"
	"codeberg.org/mutker/modemtemp/internal/metrics"
	"codeberg.org/mutker/modemtemp/internal/modem"
	"codeberg.org/mutker/modemtemp/internal/reconnect"
	"codeberg.org/mutker/modemtemp/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodReply = "AT+QTEMP\r\r\n" +
	"+QTEMP: \"modem-lte-sub6-pa1\",\"22\"\r\n" +
	"+QTEMP: \"modem-ambient-usr\",\"25\"\r\n" +
	"+QTEMP: \"cpuss-0-usr\",\"30\"\r\n" +
	"\r\nOK\r\n"

type reply struct {
	data string
	err  error
}

type fakeTransport struct {
	mu        sync.Mutex
	replies   []reply
	exchanges int
	closed    int
}

func (f *fakeTransport) Exchange(_ context.Context, command string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exchanges++
	if command != "AT+QTEMP" {
		return nil, io.ErrUnexpectedEOF
	}
	if len(f.replies) == 0 {
		return []byte(goodReply), nil
	}

	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return []byte(r.data), r.err
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeOpener struct {
	transport *fakeTransport
	failures  int // opens that fail before succeeding; -1 fails forever
	opens     int
	targets   []string
}

func (o *fakeOpener) open(target string, _ int) (modem.Transport, error) {
	o.opens++
	o.targets = append(o.targets, target)
	if o.failures < 0 || o.opens <= o.failures {
		return nil, io.ErrClosedPipe
	}
	return o.transport, nil
}

type fakeSource struct {
	cfg   config.Config
	err   error
	loads int
}

func (s *fakeSource) Load() (config.Config, error) {
	s.loads++
	return s.cfg, s.err
}

type memorySink struct {
	mu     sync.Mutex
	values []string
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Write(_ context.Context, p sink.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = append(m.values, p.String())
	return nil
}

type memoryHistory struct {
	samples []*metrics.Sample
}

func (h *memoryHistory) Record(_ context.Context, s *metrics.Sample) error {
	h.samples = append(h.samples, s)
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Sysfs.ThermalRoot = t.TempDir()
	cfg.Reconnect.MaxAttempts = 2
	cfg.Reconnect.MaxFailedCycles = 2
	return cfg
}

// stopAfter returns a sleeper that stops d after n interval sleeps and
// records every requested duration
func stopAfter(d **daemon.Daemon, n int, slept *[]time.Duration) reconnect.SleepFunc {
	calls := 0
	return func(ctx context.Context, dur time.Duration) error {
		*slept = append(*slept, dur)
		calls++
		if calls >= n {
			(*d).Stop()
			return context.Canceled
		}
		return ctx.Err()
	}
}

func TestWorkedExamplePublishesMaximum(t *testing.T) {
	cfg := testConfig(t)
	target := filepath.Join(t.TempDir(), "temp")
	require.NoError(t, os.WriteFile(target, []byte("N/A"), 0o644))

	mem := &memorySink{}
	history := &memoryHistory{}
	pub := sink.NewPublisher(time.Second, sink.NewFileSink("kernel", target), mem)
	opener := &fakeOpener{transport: &fakeTransport{}}

	var slept []time.Duration
	var d *daemon.Daemon
	d = daemon.New(cfg, nil, opener.open, pub,
		daemon.WithSleep(stopAfter(&d, 1, &slept)),
		daemon.WithHistory(history))

	require.NoError(t, d.Run(context.Background()))

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "30000", string(content))
	assert.Equal(t, []string{"30000"}, mem.values)

	snap := d.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Iterations)
	assert.EqualValues(t, 1, snap.SuccessfulReads)
	assert.EqualValues(t, 30000, snap.LastMilliCelsius)
	assert.Equal(t, []time.Duration{cfg.SampleInterval()}, slept)
	assert.Equal(t, 1, opener.transport.closed, "transport closed on shutdown")

	require.Len(t, history.samples, 1)
	assert.True(t, history.samples[0].Available)
	require.NotNil(t, history.samples[0].PA)
	assert.Equal(t, 22, *history.samples[0].PA)
}

func TestErrorReplyPublishesSentinel(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}
	for _, p := range paths {
		require.NoError(t, os.WriteFile(p, []byte("41000"), 0o644))
	}

	pub := sink.NewPublisher(time.Second, sink.NewFileSink("a", paths[0]), sink.NewFileSink("b", paths[1]))
	opener := &fakeOpener{transport: &fakeTransport{replies: []reply{{data: "\r\nERROR\r\n"}}}}

	var slept []time.Duration
	var d *daemon.Daemon
	d = daemon.New(cfg, nil, opener.open, pub, daemon.WithSleep(stopAfter(&d, 1, &slept)))
	require.NoError(t, d.Run(context.Background()))

	for _, p := range paths {
		content, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, "N/A", string(content))
	}

	snap := d.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.ParseErrors)
	assert.EqualValues(t, 0, snap.SuccessfulReads)
	assert.False(t, snap.LastAvailable)
}

func TestFatalAfterExhaustedCycles(t *testing.T) {
	cfg := testConfig(t)
	mem := &memorySink{}
	opener := &fakeOpener{failures: -1}

	var slept []time.Duration
	var d *daemon.Daemon
	d = daemon.New(cfg, nil, opener.open, sink.NewPublisher(time.Second, mem),
		daemon.WithSleep(stopAfter(&d, 1000, &slept)))

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, reconnect.ErrExhausted))

	// Two cycles of two attempts each, plus the open that ends each cycle
	assert.Equal(t, 6, opener.opens)
	assert.EqualValues(t, 6, d.Stats().Snapshot().SerialErrors)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 10 * time.Second, 20 * time.Second}, slept,
		"only backoff sleeps, each cycle restarting from the initial delay")
	for _, v := range mem.values {
		assert.Equal(t, "N/A", v)
	}
	assert.Len(t, mem.values, 6)
}

func TestRecoversAfterOpenFailures(t *testing.T) {
	cfg := testConfig(t)
	mem := &memorySink{}
	opener := &fakeOpener{transport: &fakeTransport{}, failures: 2}

	var slept []time.Duration
	var d *daemon.Daemon
	d = daemon.New(cfg, nil, opener.open, sink.NewPublisher(time.Second, mem),
		daemon.WithSleep(stopAfter(&d, 4, &slept)))
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []string{"N/A", "N/A", "30000", "30000"}, mem.values)
	assert.Equal(t, 3, opener.opens, "port stays open once established")
}

func TestCommandFailuresForceReopen(t *testing.T) {
	cfg := testConfig(t)
	mem := &memorySink{}
	fail := reply{err: errors.New().New(modem.ErrTimeout)}
	transport := &fakeTransport{replies: []reply{fail, fail, fail, fail, {data: goodReply}}}
	opener := &fakeOpener{transport: transport}

	var slept []time.Duration
	var d *daemon.Daemon
	d = daemon.New(cfg, nil, opener.open, sink.NewPublisher(time.Second, mem),
		daemon.WithSleep(stopAfter(&d, 6, &slept)))
	require.NoError(t, d.Run(context.Background()))

	snap := d.Stats().Snapshot()
	assert.EqualValues(t, 4, snap.CommandErrors)
	assert.Equal(t, 2, opener.opens, "fourth consecutive failure reopens the port")
	assert.Equal(t, 2, transport.closed, "closed once for the reopen and once on shutdown")
	assert.Equal(t, 10*time.Second, slept[3], "reopen goes through the backoff")
	assert.Equal(t, "30000", mem.values[len(mem.values)-1])
}

func TestReloadReopensOnTransportChange(t *testing.T) {
	cfg := testConfig(t)
	next := cfg
	next.SerialPort = "/dev/ttyUSB3"
	next.ErrorValue = "unavailable"
	source := &fakeSource{cfg: next}

	clock := time.Unix(1700000000, 0)
	now := func() time.Time {
		clock = clock.Add(31 * time.Second)
		return clock
	}

	opener := &fakeOpener{transport: &fakeTransport{}}
	var slept []time.Duration
	var d *daemon.Daemon
	d = daemon.New(cfg, source, opener.open, sink.NewPublisher(time.Second, &memorySink{}),
		daemon.WithClock(now),
		daemon.WithSleep(stopAfter(&d, 3, &slept)))
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []string{config.DefaultSerialPort, "/dev/ttyUSB3"}, opener.targets)
	assert.Equal(t, 2, opener.transport.closed)
	assert.GreaterOrEqual(t, source.loads, 1)
}

func TestReloadChangesLogLevelAndThresholds(t *testing.T) {
	logger.SetLogLevel(logger.InfoLevel)
	t.Cleanup(func() { logger.SetLogLevel(logger.InfoLevel) })

	cfg := testConfig(t)
	next := cfg
	next.LogLevel = config.LogLevelDebug
	next.TempMax = 70
	source := &fakeSource{cfg: next}

	clock := time.Unix(1700000000, 0)
	now := func() time.Time {
		clock = clock.Add(61 * time.Second)
		return clock
	}

	var applied []kmod.Thresholds
	opener := &fakeOpener{transport: &fakeTransport{}}
	var slept []time.Duration
	var d *daemon.Daemon
	d = daemon.New(cfg, source, opener.open, sink.NewPublisher(time.Second, &memorySink{}),
		daemon.WithClock(now),
		daemon.WithThresholdHook(func(th kmod.Thresholds) error {
			applied = append(applied, th)
			return nil
		}),
		daemon.WithSleep(stopAfter(&d, 1, &slept)))
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, logger.DebugLevel, logger.GetLogLevel())
	require.Len(t, applied, 2, "applied at start and after the reload")
	assert.Equal(t, 75000, applied[0].Max)
	assert.Equal(t, 70000, applied[1].Max)
	assert.Equal(t, 1, opener.opens, "log level and thresholds do not reopen the port")
}

func TestStopInterruptsSleep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Interval = 3600

	d := daemon.New(cfg, nil, (&fakeOpener{transport: &fakeTransport{}}).open,
		sink.NewPublisher(time.Second, &memorySink{}))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	require.Eventually(t, func() bool { return d.Stats().Iterations() == 1 }, time.Second, 5*time.Millisecond)
	d.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestStopBeforeRun(t *testing.T) {
	opener := &fakeOpener{transport: &fakeTransport{}}
	d := daemon.New(testConfig(t), nil, opener.open, sink.NewPublisher(time.Second))
	d.Stop()

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 0, opener.opens)
}
