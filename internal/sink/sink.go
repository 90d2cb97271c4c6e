package sink

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"codeberg.org/mutker/modemtemp/internal/logger"
	"codeberg.org/mutker/modemtemp/internal/temperature"
)

// DefaultTimeout bounds a single sink write
const DefaultTimeout = 2 * time.Second

// Sink is one destination for published temperatures
type Sink interface {
	Name() string
	Write(ctx context.Context, p Payload) error
}

// Payload is either a reading in milli-Celsius or the unavailable sentinel
type Payload struct {
	MilliCelsius int
	Available    bool
	Sentinel     string
	Reading      temperature.Reading
	Time         time.Time
}

// Value builds a payload for a validated reading
func Value(milliCelsius int, r temperature.Reading, at time.Time) Payload {
	return Payload{
		MilliCelsius: milliCelsius,
		Available:    true,
		Reading:      r,
		Time:         at,
	}
}

// Unavailable builds a sentinel payload
func Unavailable(sentinel string, at time.Time) Payload {
	return Payload{
		Sentinel: sentinel,
		Time:     at,
	}
}

// String is the text written to file targets
func (p Payload) String() string {
	if !p.Available {
		return p.Sentinel
	}
	return strconv.Itoa(p.MilliCelsius)
}

// Celsius returns the value in degrees
func (p Payload) Celsius() float64 {
	return float64(p.MilliCelsius) / 1000
}

type payloadJSON struct {
	Value        string   `json:"value"`
	Available    bool     `json:"available"`
	MilliCelsius *int     `json:"milli_celsius,omitempty"`
	Celsius      *float64 `json:"celsius,omitempty"`
	Modem        *int     `json:"modem,omitempty"`
	AP           *int     `json:"ap,omitempty"`
	PA           *int     `json:"pa,omitempty"`
	Timestamp    string   `json:"timestamp"`
}

// MarshalJSON is the wire form used by network sinks
func (p Payload) MarshalJSON() ([]byte, error) {
	out := payloadJSON{
		Value:     p.String(),
		Available: p.Available,
		Timestamp: p.Time.UTC().Format(time.RFC3339),
	}

	if p.Available {
		milli := p.MilliCelsius
		celsius := p.Celsius()
		out.MilliCelsius = &milli
		out.Celsius = &celsius
		out.Modem = samplePtr(p.Reading.Modem)
		out.AP = samplePtr(p.Reading.AP)
		out.PA = samplePtr(p.Reading.PA)
	}

	return json.Marshal(out)
}

func samplePtr(s temperature.Sample) *int {
	if !s.Present {
		return nil
	}
	v := s.Celsius
	return &v
}

// Result is the outcome for one sink
type Result struct {
	Sink     string
	Err      error
	Duration time.Duration
}

// Report lists per-sink outcomes of one publish, in sink order
type Report struct {
	Payload Payload
	Results []Result
}

// Failed returns the names of sinks that could not be written
func (r Report) Failed() []string {
	var names []string
	for _, res := range r.Results {
		if res.Err != nil {
			names = append(names, res.Sink)
		}
	}
	return names
}

// Succeeded counts written sinks
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Err returns the error recorded for the named sink
func (r Report) Err(name string) error {
	for _, res := range r.Results {
		if res.Sink == name {
			return res.Err
		}
	}
	return nil
}

// Publisher writes each payload to every sink in order. A failing sink is
// recorded and skipped; it never stops the remaining writes.
type Publisher struct {
	sinks   []Sink
	timeout time.Duration
}

// NewPublisher creates a publisher with a per-sink write timeout
func NewPublisher(timeout time.Duration, sinks ...Sink) *Publisher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Publisher{
		sinks:   sinks,
		timeout: timeout,
	}
}

// Add appends a sink
func (p *Publisher) Add(s Sink) {
	p.sinks = append(p.sinks, s)
}

// Sinks returns the sink names in publish order
func (p *Publisher) Sinks() []string {
	names := make([]string, 0, len(p.sinks))
	for _, s := range p.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Publish writes payload to all sinks
func (p *Publisher) Publish(ctx context.Context, payload Payload) Report {
	report := Report{
		Payload: payload,
		Results: make([]Result, 0, len(p.sinks)),
	}

	for _, s := range p.sinks {
		start := time.Now()
		err := p.write(ctx, s, payload)
		report.Results = append(report.Results, Result{
			Sink:     s.Name(),
			Err:      err,
			Duration: time.Since(start),
		})

		if err != nil {
			logger.Debug().Err(err).Str("sink", s.Name()).Msg("Failed to publish temperature")
		}
	}

	logger.Debug().
		Str("value", payload.String()).
		Int("written", report.Succeeded()).
		Strs("failed", report.Failed()).
		Msg("Published temperature")

	return report
}

func (p *Publisher) write(ctx context.Context, s Sink, payload Payload) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return s.Write(ctx, payload)
}

// Close releases sinks that hold connections
func (p *Publisher) Close() error {
	var first error
	for _, s := range p.sinks {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Str("sink", s.Name()).Msg("Failed to close sink")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
