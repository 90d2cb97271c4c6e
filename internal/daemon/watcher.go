package daemon

import (
	"time"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/logger"
)

// ReloadInterval is the minimum time between configuration reloads
const ReloadInterval = 60 * time.Second

// Watcher re-reads the configuration on a fixed cadence and reports what
// changed. A failed load keeps the previous snapshot.
type Watcher struct {
	source   config.Source
	interval time.Duration
	last     time.Time
	current  config.Config
}

// NewWatcher starts the reload clock at start
func NewWatcher(source config.Source, initial config.Config, interval time.Duration, start time.Time) *Watcher {
	if interval <= 0 {
		interval = ReloadInterval
	}
	return &Watcher{
		source:   source,
		interval: interval,
		last:     start,
		current:  initial,
	}
}

// Current returns the active snapshot
func (w *Watcher) Current() config.Config {
	return w.current
}

// MaybeReload loads a fresh snapshot when the interval has elapsed. The
// bool is true only when the new snapshot differs from the active one.
func (w *Watcher) MaybeReload(now time.Time) (config.Delta, bool) {
	if w.source == nil || now.Sub(w.last) < w.interval {
		return config.Delta{}, false
	}
	w.last = now

	cfg, err := w.source.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to reload configuration, keeping current settings")
		return config.Delta{}, false
	}

	delta := config.Diff(w.current, cfg)
	if !delta.Changed() {
		logger.Debug().Msg("Configuration unchanged")
		return config.Delta{}, false
	}

	w.current = cfg
	return delta, true
}
