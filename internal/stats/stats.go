// Package stats holds the daemon's running counters. The loop is the only
// writer; the telemetry server reads them from its own goroutines.
package stats

import (
	"time"

	"go.uber.org/atomic"
)

// Stats are monotonically increasing counters plus the last published value
type Stats struct {
	startedAt time.Time

	iterations      atomic.Uint64
	successfulReads atomic.Uint64
	serialErrors    atomic.Uint64
	commandErrors   atomic.Uint64
	parseErrors     atomic.Uint64

	lastMilliCelsius atomic.Int64
	lastAvailable    atomic.Bool
	lastPublished    atomic.Time
}

// Snapshot is a point-in-time copy of Stats
type Snapshot struct {
	StartedAt       time.Time
	Uptime          time.Duration
	Iterations      uint64
	SuccessfulReads uint64
	SerialErrors    uint64
	CommandErrors   uint64
	ParseErrors     uint64

	LastMilliCelsius int64
	LastAvailable    bool
	LastPublished    time.Time
}

// New starts the uptime clock
func New() *Stats {
	return &Stats{startedAt: time.Now()}
}

func (s *Stats) IncIterations()   { s.iterations.Inc() }
func (s *Stats) IncSuccess()      { s.successfulReads.Inc() }
func (s *Stats) IncSerialError()  { s.serialErrors.Inc() }
func (s *Stats) IncCommandError() { s.commandErrors.Inc() }
func (s *Stats) IncParseError()   { s.parseErrors.Inc() }

// Iterations returns the iteration counter
func (s *Stats) Iterations() uint64 {
	return s.iterations.Load()
}

// RecordPublished stores the value last written to the sinks
func (s *Stats) RecordPublished(milliCelsius int, available bool, at time.Time) {
	if available {
		s.lastMilliCelsius.Store(int64(milliCelsius))
	}
	s.lastAvailable.Store(available)
	s.lastPublished.Store(at)
}

// Snapshot copies every counter
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		StartedAt:        s.startedAt,
		Uptime:           time.Since(s.startedAt),
		Iterations:       s.iterations.Load(),
		SuccessfulReads:  s.successfulReads.Load(),
		SerialErrors:     s.serialErrors.Load(),
		CommandErrors:    s.commandErrors.Load(),
		ParseErrors:      s.parseErrors.Load(),
		LastMilliCelsius: s.lastMilliCelsius.Load(),
		LastAvailable:    s.lastAvailable.Load(),
		LastPublished:    s.lastPublished.Load(),
	}
}

// SuccessRate returns successful reads per iteration in percent
func (s Snapshot) SuccessRate() float64 {
	if s.Iterations == 0 {
		return 0
	}
	return float64(s.SuccessfulReads) * 100 / float64(s.Iterations)
}
