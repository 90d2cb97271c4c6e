package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/modemtemp/internal/temperature"
)

// Collector records each loop outcome and serves the recent history
type Collector interface {
	Record(ctx context.Context, sample *Sample) error
	Recent(ctx context.Context, n int) ([]Sample, error)
	Close() error
}

// Repository defines the interface for history storage
type Repository interface {
	Record(sample *Sample) error
	Recent(ctx context.Context, n int) ([]Sample, error)
	Close() error
}

// Sample is one published outcome. Channel values are nil when the modem
// did not report them.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	MilliCelsius int       `json:"milli_celsius"`
	Available    bool      `json:"available"`
	Modem        *int      `json:"modem,omitempty"`
	AP           *int      `json:"ap,omitempty"`
	PA           *int      `json:"pa,omitempty"`
}

// NewSample builds a history entry. Unavailable outcomes keep the channel
// values that were parsed, if any, but no aggregate.
func NewSample(at time.Time, milliCelsius int, available bool, r temperature.Reading) *Sample {
	s := &Sample{
		Timestamp: at,
		Available: available,
		Modem:     channel(r.Modem),
		AP:        channel(r.AP),
		PA:        channel(r.PA),
	}
	if available {
		s.MilliCelsius = milliCelsius
	}
	return s
}

func channel(s temperature.Sample) *int {
	if !s.Present {
		return nil
	}
	v := s.Celsius
	return &v
}
