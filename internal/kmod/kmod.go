// Package kmod talks to the quectel_rm520n kernel module through its sysfs
// directory: threshold files and the published temperature.
package kmod

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/logger"
	"codeberg.org/mutker/modemtemp/internal/sink"
)

const (
	TempFile        = "temp"
	TempMinFile     = "temp_min"
	TempMaxFile     = "temp_max"
	TempCritFile    = "temp_crit"
	TempDefaultFile = "temp_default"
)

const (
	ErrThresholdWrite = errors.ErrorCode("kmod_threshold_write_failed")
	ErrReadFailed     = errors.ErrorCode("kmod_read_failed")
)

// Thresholds are in milli-Celsius, the unit the module expects
type Thresholds struct {
	Min     int
	Max     int
	Crit    int
	Default int
}

// FromConfig converts the configured degree limits
func FromConfig(cfg config.Config) Thresholds {
	return Thresholds{
		Min:     cfg.TempMin * 1000,
		Max:     cfg.TempMax * 1000,
		Crit:    cfg.TempCrit * 1000,
		Default: cfg.TempDefault * 1000,
	}
}

// MaxCelsius is the alert threshold in degrees
func (t Thresholds) MaxCelsius() float64 {
	return float64(t.Max) / 1000
}

// Apply writes every threshold into dir. Missing files are skipped with a
// debug log since older module builds lack some of them; the first write
// error is returned after all files were attempted.
func Apply(dir string, t Thresholds) error {
	errFactory := errors.New()

	var firstErr error
	for _, f := range []struct {
		name  string
		value int
	}{
		{TempMinFile, t.Min},
		{TempMaxFile, t.Max},
		{TempCritFile, t.Crit},
		{TempDefaultFile, t.Default},
	} {
		path := filepath.Join(dir, f.name)
		err := sink.WriteFile(path, strconv.Itoa(f.value))
		switch {
		case err == nil:
			logger.Debug().Str("path", path).Int("value", f.value).Msg("Threshold written")
		case os.IsNotExist(err):
			logger.Debug().Str("path", path).Msg("Threshold file not present")
		default:
			if firstErr == nil {
				firstErr = errFactory.Wrap(ErrThresholdWrite, err).WithData(path)
			}
		}
	}

	return firstErr
}

// ReadValue reads a milli-Celsius value. The bool is false when the file
// holds the unavailable sentinel, nothing, or 0.
func ReadValue(path string) (int, bool, error) {
	errFactory := errors.New()

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false, errFactory.Wrap(ErrReadFailed, err).WithData(path)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" || strings.EqualFold(text, "N/A") {
		return 0, false, nil
	}

	value, err := strconv.Atoi(text)
	if err != nil {
		// Any other non-numeric content is a custom sentinel
		return 0, false, nil
	}
	if value == 0 {
		return 0, false, nil
	}

	return value, true, nil
}
