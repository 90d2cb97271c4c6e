package sink

import (
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/modemtemp/internal/errors"
)

const hwmonInput = "temp1_input"

// DiscoverHwmon returns the temp1_input of the hwmon device called name
func DiscoverHwmon(root, name string) (string, error) {
	entries, err := filepath.Glob(filepath.Join(root, "hwmon*"))
	if err != nil {
		return "", err
	}

	for _, dir := range entries {
		raw, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(raw)) == name {
			return filepath.Join(dir, hwmonInput), nil
		}
	}

	return "", errors.New().WithData(ErrTargetNotFound, struct {
		Root string
		Name string
	}{root, name})
}

// HwmonResolver locates the modem's hwmon input. A non-empty override
// bypasses discovery.
func HwmonResolver(root, name, override string) Resolver {
	if override != "" {
		return StaticPath(override)
	}

	return NewCachedResolver(func() (string, error) {
		return DiscoverHwmon(root, name)
	})
}
