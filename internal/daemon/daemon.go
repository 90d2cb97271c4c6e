// Package daemon runs the sampling loop: open the modem, query it, publish
// the result, and recover from failures through the reconnect controller.
package daemon

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/kmod"
	"codeberg.org/mutker/modemtemp/internal/logger"
	"codeberg.org/mutker/modemtemp/internal/metrics"
	"codeberg.org/mutker/modemtemp/internal/modem"
	"codeberg.org/mutker/modemtemp/internal/reconnect"
	"codeberg.org/mutker/modemtemp/internal/sink"
	"codeberg.org/mutker/modemtemp/internal/stats"
	"codeberg.org/mutker/modemtemp/internal/temperature"
	"go.uber.org/atomic"
)

// StatsLogInterval is how many iterations pass between statistics logs
const StatsLogInterval = 100

// Opener opens the modem transport
type Opener func(target string, baud int) (modem.Transport, error)

// Recorder stores each published outcome
type Recorder interface {
	Record(ctx context.Context, sample *metrics.Sample) error
}

// ThresholdHook receives the thresholds at start and after they change
type ThresholdHook func(th kmod.Thresholds) error

// Daemon owns the transport, counters and configuration snapshot. Only Run
// touches them; Stop may be called from any goroutine.
type Daemon struct {
	cfg       config.Config
	watcher   *Watcher
	open      Opener
	publisher *sink.Publisher
	reconnect *reconnect.Controller
	stats     *stats.Stats
	history   Recorder
	hooks     []ThresholdHook
	sleep     reconnect.SleepFunc
	now       func() time.Time

	transport modem.Transport

	stopping atomic.Bool
	mu       sync.Mutex
	cancel   context.CancelFunc
}

// Option customises a Daemon
type Option func(*Daemon)

// WithStats shares counters with the telemetry server
func WithStats(st *stats.Stats) Option {
	return func(d *Daemon) {
		d.stats = st
	}
}

// WithHistory records every outcome
func WithHistory(r Recorder) Option {
	return func(d *Daemon) {
		d.history = r
	}
}

// WithThresholdHook is called with the configured thresholds at start and
// whenever a reload changes them
func WithThresholdHook(h ThresholdHook) Option {
	return func(d *Daemon) {
		d.hooks = append(d.hooks, h)
	}
}

// WithSleep replaces the timer used for the interval and the backoff
func WithSleep(fn reconnect.SleepFunc) Option {
	return func(d *Daemon) {
		d.sleep = fn
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) {
		d.now = now
	}
}

// New builds a daemon for cfg. source may be nil to disable reloads.
func New(cfg config.Config, source config.Source, open Opener, publisher *sink.Publisher, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:       cfg,
		open:      open,
		publisher: publisher,
		sleep:     reconnect.Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.stats == nil {
		d.stats = stats.New()
	}
	d.watcher = NewWatcher(source, cfg, ReloadInterval, d.now())
	d.reconnect = reconnect.New(reconnectConfig(cfg.Reconnect), reconnect.WithSleep(d.sleep))

	return d
}

func reconnectConfig(c config.ReconnectConfig) reconnect.Config {
	return reconnect.Config{
		MaxAttempts:        c.MaxAttempts,
		InitialDelay:       time.Duration(c.InitialDelay) * time.Second,
		MaxDelay:           time.Duration(c.MaxDelay) * time.Second,
		MaxFailedCycles:    c.MaxFailedCycles,
		MaxCommandFailures: c.MaxCommandFailures,
	}
}

// Stats returns the daemon counters
func (d *Daemon) Stats() *stats.Stats {
	return d.stats
}

// Stop requests shutdown and interrupts any sleep in progress
func (d *Daemon) Stop() {
	d.stopping.Store(true)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// Run loops until Stop, ctx cancellation, or reconnect exhaustion. Only
// exhaustion is returned as an error. The transport is closed on return.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	if d.stopping.Load() {
		return nil
	}

	defer d.closeTransport()

	d.logStartup()
	d.applyThresholds(d.cfg)

	for !d.stopping.Load() && ctx.Err() == nil {
		skipSleep, err := d.iterate(ctx)
		if err != nil {
			if errors.HasCode(err, reconnect.ErrExhausted) {
				logger.Error().Err(err).
					Str("port", d.cfg.SerialPort).
					Msg("Giving up on the modem after repeated reconnect failures")
				d.logStats()
				return err
			}
			// Backoff interrupted by shutdown
			break
		}

		if d.stats.Iterations()%StatsLogInterval == 0 {
			d.logStats()
		}

		if skipSleep {
			continue
		}
		if err := d.sleep(ctx, d.cfg.SampleInterval()); err != nil {
			break
		}
	}

	logger.Info().Msg("Shutting down")
	d.logStats()

	return nil
}

// iterate runs one pass. skipSleep is true when the interval sleep must be
// skipped: after a backoff sleep, or when the transport has to be reopened.
func (d *Daemon) iterate(ctx context.Context) (skipSleep bool, err error) {
	d.stats.IncIterations()
	now := d.now()

	if delta, ok := d.watcher.MaybeReload(now); ok {
		if d.applyDelta(delta) {
			return true, nil
		}
	}

	if d.transport == nil {
		t, err := d.open(d.cfg.SerialPort, d.cfg.BaudRate)
		if err != nil {
			d.stats.IncSerialError()
			logger.Warn().Err(err).Str("port", d.cfg.SerialPort).Msg("Failed to open modem port")
			d.publish(ctx, sink.Unavailable(d.cfg.ErrorValue, now), temperature.Reading{})

			if _, err := d.reconnect.Failure(ctx); err != nil {
				return true, err
			}
			return true, nil
		}

		d.transport = t
		logger.Info().Str("port", d.cfg.SerialPort).Int("baud", d.cfg.BaudRate).Msg("Modem port opened")
	}

	raw, err := d.transport.Exchange(ctx, temperature.Command)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}

		d.stats.IncCommandError()
		logger.Warn().Err(err).Msg("AT command failed")
		d.publish(ctx, sink.Unavailable(d.cfg.ErrorValue, now), temperature.Reading{})

		if d.reconnect.CommandFailed() {
			logger.Warn().Msg("Too many consecutive command failures, reopening the port")
			d.closeTransport()
			if _, err := d.reconnect.Failure(ctx); err != nil {
				return true, err
			}
			return true, nil
		}
		return false, nil
	}

	reading, err := temperature.Parse(raw, d.cfg.Prefixes())
	var milli int
	if err == nil {
		milli, err = temperature.Select(reading, d.cfg.Selection)
	}
	if err != nil {
		d.stats.IncParseError()
		logger.Warn().Err(err).Msg("Discarding modem response")
		d.publish(ctx, sink.Unavailable(d.cfg.ErrorValue, now), reading)
		return false, nil
	}

	d.reconnect.Success()
	d.stats.IncSuccess()
	d.publish(ctx, sink.Value(milli, reading, now), reading)

	logger.Debug().
		Int("milli_celsius", milli).
		Int("modem", reading.Modem.Celsius).
		Int("ap", reading.AP.Celsius).
		Int("pa", reading.PA.Celsius).
		Msg("Temperature published")

	return false, nil
}

func (d *Daemon) publish(ctx context.Context, p sink.Payload, r temperature.Reading) {
	report := d.publisher.Publish(ctx, p)
	d.stats.RecordPublished(p.MilliCelsius, p.Available, p.Time)

	if len(report.Results) > 0 && report.Succeeded() == 0 {
		logger.Warn().Strs("sinks", report.Failed()).Str("value", p.String()).Msg("No sink accepted the update")
	}

	if d.history != nil {
		if err := d.history.Record(ctx, metrics.NewSample(p.Time, p.MilliCelsius, p.Available, r)); err != nil {
			logger.Debug().Err(err).Msg("Failed to record reading history")
		}
	}
}

// applyDelta activates a reloaded snapshot. It returns true when the
// transport was closed and must be reopened.
func (d *Daemon) applyDelta(delta config.Delta) bool {
	cur := delta.Current
	d.cfg = cur

	if delta.LogLevel {
		if level, err := logger.ParseLevel(string(cur.LogLevel)); err == nil {
			logger.SetLogLevel(level)
		}
		logger.Info().
			Str("from", delta.Previous.LogLevel.String()).
			Str("to", cur.LogLevel.String()).
			Msg("Log level changed")
	}

	if delta.Interval {
		logger.Info().Int("from", delta.Previous.Interval).Int("to", cur.Interval).Msg("Interval changed")
	}
	if delta.Prefixes || delta.Selection {
		logger.Info().
			Str("modem", cur.ModemPrefix).
			Str("ap", cur.APPrefix).
			Str("pa", cur.PAPrefix).
			Str("selection", string(cur.Selection)).
			Msg("Temperature channels changed")
	}
	if delta.Thresholds {
		d.applyThresholds(cur)
	}
	if delta.Restart {
		logger.Warn().Msg("Sink, service or reconnect settings changed; restart the daemon to apply them")
	}

	if delta.Transport {
		logger.Info().
			Str("port", cur.SerialPort).
			Int("baud", cur.BaudRate).
			Msg("Serial settings changed, reopening the port")
		d.closeTransport()
		return true
	}

	return false
}

func (d *Daemon) applyThresholds(cfg config.Config) {
	th := kmod.FromConfig(cfg)
	for _, hook := range d.hooks {
		if err := hook(th); err != nil {
			logger.Warn().Err(err).Msg("Failed to apply temperature thresholds")
		}
	}
}

func (d *Daemon) closeTransport() {
	if d.transport == nil {
		return
	}
	if err := d.transport.Close(); err != nil {
		logger.Debug().Err(err).Msg("Failed to close modem port")
	}
	d.transport = nil
}

func (d *Daemon) logStartup() {
	logger.Info().
		Str("port", d.cfg.SerialPort).
		Int("baud", d.cfg.BaudRate).
		Int("interval", d.cfg.Interval).
		Str("selection", string(d.cfg.Selection)).
		Strs("sinks", d.publisher.Sinks()).
		Msg("Starting modem temperature daemon")

	zones, err := sink.ScanThermalZones(d.cfg.Sysfs.ThermalRoot, d.cfg.Sysfs.ThermalTypes)
	if err != nil {
		logger.Debug().Err(err).Msg("Thermal zone scan failed")
		return
	}
	for _, z := range zones {
		logger.Debug().
			Str("zone", z.Dir).
			Str("type", z.Type).
			Bool("eligible", z.Eligible).
			Bool("system", z.System).
			Msg("Thermal zone")
	}
}

func (d *Daemon) logStats() {
	s := d.stats.Snapshot()
	logger.Info().
		Uint64("iterations", s.Iterations).
		Uint64("successful_reads", s.SuccessfulReads).
		Uint64("serial_errors", s.SerialErrors).
		Uint64("at_command_errors", s.CommandErrors).
		Uint64("parse_errors", s.ParseErrors).
		Float64("success_rate", s.SuccessRate()).
		Dur("uptime", s.Uptime).
		Msg("Statistics")
}
