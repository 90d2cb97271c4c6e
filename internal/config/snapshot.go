package config

import "reflect"

// Delta describes which parts of the configuration changed between two
// snapshots.
type Delta struct {
	Previous Config
	Current  Config

	Transport  bool // serial port or baud rate
	Interval   bool
	LogLevel   bool
	Prefixes   bool
	Selection  bool
	Thresholds bool
	// Restart covers settings only applied at start: sinks, network
	// services and the reconnect policy
	Restart bool
}

// Changed reports whether anything differs
func (d Delta) Changed() bool {
	return d.Transport || d.Interval || d.LogLevel || d.Prefixes ||
		d.Selection || d.Thresholds || d.Restart || d.ErrorValue()
}

// ErrorValue reports whether the sentinel string changed
func (d Delta) ErrorValue() bool {
	return d.Previous.ErrorValue != d.Current.ErrorValue
}

// Diff compares two snapshots field by field
func Diff(prev, cur Config) Delta {
	return Delta{
		Previous: prev,
		Current:  cur,

		Transport: prev.SerialPort != cur.SerialPort || prev.BaudRate != cur.BaudRate,
		Interval:  prev.Interval != cur.Interval,
		LogLevel:  prev.LogLevel != cur.LogLevel,
		Prefixes:  prev.Prefixes() != cur.Prefixes(),
		Selection: prev.Selection != cur.Selection,
		Thresholds: prev.TempMin != cur.TempMin || prev.TempMax != cur.TempMax ||
			prev.TempCrit != cur.TempCrit || prev.TempDefault != cur.TempDefault,
		Restart: !reflect.DeepEqual(prev.Sysfs, cur.Sysfs) ||
			prev.Reconnect != cur.Reconnect ||
			prev.Metrics != cur.Metrics ||
			prev.Telemetry != cur.Telemetry ||
			prev.MQTT != cur.MQTT ||
			prev.Redis != cur.Redis ||
			prev.InfluxDB != cur.InfluxDB,
	}
}
