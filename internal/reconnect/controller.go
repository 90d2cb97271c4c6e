package reconnect

import (
	"context"
	"time"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/logger"
)

// Config holds the backoff policy
type Config struct {
	MaxAttempts        int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	MaxFailedCycles    int
	MaxCommandFailures int
}

// DefaultConfig returns the policy used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        5,
		InitialDelay:       10 * time.Second,
		MaxDelay:           60 * time.Second,
		MaxFailedCycles:    3,
		MaxCommandFailures: 3,
	}
}

// Outcome tells the caller what a failure led to
type Outcome int

const (
	// Retry means the backoff delay was slept and the open should be retried
	Retry Outcome = iota
	// CycleReset means a full cycle was exhausted and a new one begins
	CycleReset
)

func (o Outcome) String() string {
	if o == CycleReset {
		return "cycle_reset"
	}
	return "retry"
}

// State is a copy of the controller counters
type State struct {
	Attempts        int
	Delay           time.Duration
	FailedCycles    int
	CommandFailures int
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Controller tracks reconnect attempts for the transport. It is owned by
// the loop and not safe for concurrent use.
type Controller struct {
	cfg   Config
	sleep SleepFunc
	state State
}

// Option customises a Controller
type Option func(*Controller)

// WithSleep replaces the context-aware timer used between attempts
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) {
		c.sleep = fn
	}
}

// New creates a controller at baseline
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:   cfg,
		sleep: Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resetCycle()

	return c
}

// Failure records a failed open (or a forced reopen). Within a cycle it
// sleeps the current delay and doubles it up to MaxDelay. Once the cycle's
// attempts are spent it counts a failed cycle, and returns ErrExhausted when
// MaxFailedCycles is reached.
func (c *Controller) Failure(ctx context.Context) (Outcome, error) {
	errFactory := errors.New()

	if c.state.Attempts < c.cfg.MaxAttempts {
		c.state.Attempts++
		wait := c.state.Delay
		c.state.Delay = min(c.state.Delay*2, c.cfg.MaxDelay)

		logger.Warn().
			Int("attempt", c.state.Attempts).
			Int("max_attempts", c.cfg.MaxAttempts).
			Dur("delay", wait).
			Msg("Reconnect attempt failed, backing off")

		if err := c.sleep(ctx, wait); err != nil {
			return Retry, errFactory.Wrap(ErrCanceled, err)
		}

		return Retry, nil
	}

	c.state.FailedCycles++
	if c.state.FailedCycles >= c.cfg.MaxFailedCycles {
		return CycleReset, errFactory.WithData(ErrExhausted, c.state.FailedCycles)
	}

	logger.Error().
		Int("failed_cycles", c.state.FailedCycles).
		Int("max_failed_cycles", c.cfg.MaxFailedCycles).
		Msg("Reconnect cycle exhausted, starting a new cycle")
	c.resetCycle()

	return CycleReset, nil
}

// CommandFailed records a failed exchange on an open transport. It returns
// true once more than MaxCommandFailures consecutive exchanges failed; the
// caller must then close the transport and report a Failure.
func (c *Controller) CommandFailed() bool {
	c.state.CommandFailures++
	if c.state.CommandFailures <= c.cfg.MaxCommandFailures {
		return false
	}

	c.state.CommandFailures = 0
	return true
}

// Success resets every counter after a good reading
func (c *Controller) Success() {
	if c.state.FailedCycles > 0 || c.state.Attempts > 0 {
		logger.Info().
			Int("attempts", c.state.Attempts).
			Int("failed_cycles", c.state.FailedCycles).
			Msg("Modem communication recovered")
	}

	c.resetCycle()
	c.state.FailedCycles = 0
	c.state.CommandFailures = 0
}

// State returns a copy of the counters
func (c *Controller) State() State {
	return c.state
}

func (c *Controller) resetCycle() {
	c.state.Attempts = 0
	c.state.Delay = c.cfg.InitialDelay
}

// Sleep waits for d, returning early with ctx's error on cancellation
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
