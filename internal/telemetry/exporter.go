package telemetry

import (
	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/kmod"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/atomic"
)

const (
	namespace = "quectel"
	subModem  = "modem"
	subDaemon = "daemon"
)

// Exporter derives every Prometheus metric from the daemon statistics at
// scrape time, so the loop never touches the registry.
type Exporter struct {
	stats    StatsSource
	registry *prometheus.Registry

	min  atomic.Int64
	max  atomic.Int64
	crit atomic.Int64
}

// NewExporter builds a private registry with the modem and daemon metrics
func NewExporter(stats StatsSource, th kmod.Thresholds) (*Exporter, error) {
	e := &Exporter{
		stats:    stats,
		registry: prometheus.NewRegistry(),
	}
	e.SetThresholds(th)

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subModem, Name: "temperature_celsius",
			Help: "Last published modem temperature.",
		}, func() float64 { return float64(e.stats.Snapshot().LastMilliCelsius) / 1000 }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subModem, Name: "temperature_available",
			Help: "1 when the last publish carried a value, 0 when it was the sentinel.",
		}, func() float64 { return boolGauge(e.stats.Snapshot().LastAvailable) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subModem, Name: "temp_min_celsius",
			Help: "Configured minimum temperature.",
		}, func() float64 { return milliToCelsius(e.min.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subModem, Name: "temp_max_celsius",
			Help: "Configured alert temperature.",
		}, func() float64 { return milliToCelsius(e.max.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subModem, Name: "temp_crit_celsius",
			Help: "Configured critical temperature.",
		}, func() float64 { return milliToCelsius(e.crit.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subModem, Name: "alert_active",
			Help: "1 when the last value is at or above temp_max.",
		}, func() float64 { return boolGauge(e.AlertActive()) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subDaemon, Name: "iterations_total",
			Help: "Loop iterations.",
		}, func() float64 { return float64(e.stats.Snapshot().Iterations) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subDaemon, Name: "reads_success_total",
			Help: "Readings that were parsed, selected and published.",
		}, func() float64 { return float64(e.stats.Snapshot().SuccessfulReads) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subDaemon, Name: "errors_serial_total",
			Help: "Failures to open the serial port.",
		}, func() float64 { return float64(e.stats.Snapshot().SerialErrors) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subDaemon, Name: "errors_at_command_total",
			Help: "Failed AT command exchanges.",
		}, func() float64 { return float64(e.stats.Snapshot().CommandErrors) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subDaemon, Name: "errors_parse_total",
			Help: "Responses rejected by the parser or selector.",
		}, func() float64 { return float64(e.stats.Snapshot().ParseErrors) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subDaemon, Name: "uptime_seconds",
			Help: "Seconds since the daemon started.",
		}, func() float64 { return e.stats.Snapshot().Uptime.Seconds() }),
	}

	for _, c := range cs {
		if err := e.registry.Register(c); err != nil {
			return nil, errors.New().Wrap(ErrRegisterFailed, err)
		}
	}

	return e, nil
}

// SetThresholds updates the limits after a reload
func (e *Exporter) SetThresholds(th kmod.Thresholds) {
	e.min.Store(int64(th.Min))
	e.max.Store(int64(th.Max))
	e.crit.Store(int64(th.Crit))
}

// AlertActive reports whether the last published value reached temp_max
func (e *Exporter) AlertActive() bool {
	s := e.stats.Snapshot()
	return s.LastAvailable && s.LastMilliCelsius >= e.max.Load()
}

// Registry is exposed for /metrics
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func milliToCelsius(v int64) float64 {
	return float64(v) / 1000
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
