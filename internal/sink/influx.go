package sink

import (
	"context"
	"time"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/errors"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const influxRequestTimeout = 5 // seconds

// InfluxSink writes one point per publish with the blocking write API so
// the publisher sees every failure
type InfluxSink struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
}

// NewInfluxSink connects and checks the server is reachable
func NewInfluxSink(ctx context.Context, cfg config.InfluxDBConfig) (*InfluxSink, error) {
	errFactory := errors.New()

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(influxRequestTimeout))

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, errFactory.Wrap(ErrConnectFailed, err).WithData(cfg.URL)
	}
	if !ok {
		client.Close()
		return nil, errFactory.WithData(ErrConnectFailed, cfg.URL)
	}

	return &InfluxSink{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}, nil
}

func newInfluxSinkWithWriter(writer api.WriteAPIBlocking, measurement string) *InfluxSink {
	return &InfluxSink{writer: writer, measurement: measurement}
}

func (s *InfluxSink) Name() string {
	return "influxdb"
}

func (s *InfluxSink) Write(ctx context.Context, p Payload) error {
	if err := s.writer.WritePoint(ctx, s.point(p)); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err).WithData(s.measurement)
	}
	return nil
}

func (s *InfluxSink) point(p Payload) *write.Point {
	fields := map[string]interface{}{
		"available": p.Available,
	}

	if p.Available {
		fields["milli_celsius"] = p.MilliCelsius
		fields["celsius"] = p.Celsius()
		for name, sample := range map[string]struct {
			c       int
			present bool
		}{
			"modem_celsius": {p.Reading.Modem.Celsius, p.Reading.Modem.Present},
			"ap_celsius":    {p.Reading.AP.Celsius, p.Reading.AP.Present},
			"pa_celsius":    {p.Reading.PA.Celsius, p.Reading.PA.Present},
		} {
			if sample.present {
				fields[name] = sample.c
			}
		}
	}

	at := p.Time
	if at.IsZero() {
		at = time.Now()
	}

	return write.NewPoint(s.measurement, map[string]string{"sensor": "rm520n"}, fields, at)
}

func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
