package metrics

import (
	"path/filepath"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/modemtemp/metrics.db"
	backupDirName  = "backups"
)

type Config struct {
	DBPath          string
	BatchSize       int
	BatchTimeout    int // seconds
	BackupOnMigrate bool
	Enabled         bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:          defaultDBPath,
		BatchSize:       1,
		BackupOnMigrate: true,
		Enabled:         false, // Disabled by default
	}
}

// FromConfig maps the [metrics] section
func FromConfig(c config.MetricsConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.DBPath != "" {
		cfg.DBPath = c.DBPath
	}
	cfg.BatchSize = c.BatchSize
	cfg.BatchTimeout = c.BatchTimeout

	return cfg
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if metrics is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch_size and batch_timeout must not be negative")
	}
	return nil
}

func (c Config) backupDir() string {
	return filepath.Join(filepath.Dir(c.DBPath), backupDirName)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
