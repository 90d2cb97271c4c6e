package sink

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"codeberg.org/mutker/modemtemp/internal/errors"
)

// systemZoneMarkers identify zones owned by other hardware
var systemZoneMarkers = []string{"cpu", "gpu", "soc", "board"}

// Zone describes one thermal zone found during a scan
type Zone struct {
	Dir      string
	Type     string
	Eligible bool
	System   bool
}

// ScanThermalZones lists thermal zones under root and marks which ones
// modem temperatures may be written to
func ScanThermalZones(root string, types []string) ([]Zone, error) {
	dirs, err := filepath.Glob(filepath.Join(root, "thermal_zone*"))
	if err != nil {
		return nil, err
	}

	zones := make([]Zone, 0, len(dirs))
	for _, dir := range dirs {
		raw, err := os.ReadFile(filepath.Join(dir, "type"))
		if err != nil {
			continue
		}

		zoneType := strings.TrimSpace(string(raw))
		system := isSystemZone(zoneType)
		zones = append(zones, Zone{
			Dir:      dir,
			Type:     zoneType,
			System:   system,
			Eligible: !system && slices.Contains(types, zoneType),
		})
	}

	return zones, nil
}

// DiscoverThermalZone returns the temp file of the first eligible zone
func DiscoverThermalZone(root string, types []string) (string, error) {
	zones, err := ScanThermalZones(root, types)
	if err != nil {
		return "", err
	}

	for _, z := range zones {
		if z.Eligible {
			return filepath.Join(z.Dir, "temp"), nil
		}
	}

	return "", errors.New().WithData(ErrTargetNotFound, root)
}

// ThermalZoneResolver memoizes DiscoverThermalZone
func ThermalZoneResolver(root string, types []string) *CachedResolver {
	return NewCachedResolver(func() (string, error) {
		return DiscoverThermalZone(root, types)
	})
}

func isSystemZone(zoneType string) bool {
	for _, marker := range systemZoneMarkers {
		if strings.Contains(zoneType, marker) {
			return true
		}
	}
	return false
}
