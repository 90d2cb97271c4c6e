package telemetry

import (
	"net"
	"time"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/errors"
)

const (
	defaultListen       = ":9101"
	defaultHistoryLimit = 60
	maxHistoryLimit     = 1000
	shutdownTimeout     = 5 * time.Second
)

type Config struct {
	Enabled bool
	Listen  string
}

func DefaultConfig() Config {
	return Config{
		Listen: defaultListen,
	}
}

// FromConfig maps the [telemetry] section
func FromConfig(c config.TelemetryConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}
	return cfg
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.New().Wrap(ErrInvalidListen, err).WithData(c.Listen)
	}
	return nil
}
