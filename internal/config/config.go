package config

import (
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/temperature"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "MODEMTEMP"
	DefaultConfigName = "modemtemp"
	DefaultConfigDir  = "/etc"

	DefaultSerialPort = "/dev/ttyUSB2"
	DefaultBaudRate   = 115200
	DefaultInterval   = 10
	DefaultLogLevel   = LogLevelInfo
	DefaultErrorValue = "N/A"

	DefaultModemPrefix = "modem-ambient-usr"
	DefaultAPPrefix    = "cpuss-0-usr"
	DefaultPAPrefix    = "modem-lte-sub6-pa1"

	hwmonOverrideEnv = "QUECTEL_HWMON_OVERRIDE"
)

// SupportedBaudRates lists the rates the modem's USB serial bridge accepts
var SupportedBaudRates = []int{9600, 19200, 38400, 57600, 115200}

// Config is an immutable snapshot of the daemon configuration. Values are
// copied, never shared, between the loader and the loop.
type Config struct {
	SerialPort  string             `mapstructure:"serial_port" yaml:"serial_port"`
	BaudRate    int                `mapstructure:"baud_rate" yaml:"baud_rate"`
	Interval    int                `mapstructure:"interval" yaml:"interval"`
	LogLevel    LogLevel           `mapstructure:"log_level" yaml:"log_level"`
	ErrorValue  string             `mapstructure:"error_value" yaml:"error_value"`
	Selection   temperature.Policy `mapstructure:"selection" yaml:"selection"`
	ModemPrefix string             `mapstructure:"temp_modem_prefix" yaml:"temp_modem_prefix"`
	APPrefix    string             `mapstructure:"temp_ap_prefix" yaml:"temp_ap_prefix"`
	PAPrefix    string             `mapstructure:"temp_pa_prefix" yaml:"temp_pa_prefix"`

	// Kernel module thresholds in degrees Celsius
	TempMin     int `mapstructure:"temp_min" yaml:"temp_min"`
	TempMax     int `mapstructure:"temp_max" yaml:"temp_max"`
	TempCrit    int `mapstructure:"temp_crit" yaml:"temp_crit"`
	TempDefault int `mapstructure:"temp_default" yaml:"temp_default"`

	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Sysfs     SysfsConfig     `mapstructure:"sysfs" yaml:"sysfs"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	MQTT      MQTTConfig      `mapstructure:"mqtt" yaml:"mqtt"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	InfluxDB  InfluxDBConfig  `mapstructure:"influxdb" yaml:"influxdb"`
}

type ReconnectConfig struct {
	MaxAttempts        int `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay       int `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay           int `mapstructure:"max_delay" yaml:"max_delay"`
	MaxFailedCycles    int `mapstructure:"max_failed_cycles" yaml:"max_failed_cycles"`
	MaxCommandFailures int `mapstructure:"max_command_failures" yaml:"max_command_failures"`
}

type SysfsConfig struct {
	KernelDir     string   `mapstructure:"kernel_dir" yaml:"kernel_dir"`
	HwmonRoot     string   `mapstructure:"hwmon_root" yaml:"hwmon_root"`
	HwmonName     string   `mapstructure:"hwmon_name" yaml:"hwmon_name"`
	HwmonOverride string   `mapstructure:"hwmon_override" yaml:"hwmon_override,omitempty"`
	PlatformPaths []string `mapstructure:"platform_paths" yaml:"platform_paths"`
	ThermalRoot   string   `mapstructure:"thermal_root" yaml:"thermal_root"`
	ThermalTypes  []string `mapstructure:"thermal_types" yaml:"thermal_types"`
	WriteTimeout  int      `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath       string `mapstructure:"db_path" yaml:"db_path"`
	BatchSize    int    `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	QoS      int    `mapstructure:"qos" yaml:"qos"`
	Retained bool   `mapstructure:"retained" yaml:"retained"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

type InfluxDBConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	URL         string `mapstructure:"url" yaml:"url"`
	Token       string `mapstructure:"token" yaml:"-"`
	Org         string `mapstructure:"org" yaml:"org"`
	Bucket      string `mapstructure:"bucket" yaml:"bucket"`
	Measurement string `mapstructure:"measurement" yaml:"measurement"`
}

// SampleInterval returns the sampling period
func (c Config) SampleInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Prefixes returns the channel prefixes in parser order
func (c Config) Prefixes() temperature.Prefixes {
	return temperature.Prefixes{
		Modem: c.ModemPrefix,
		AP:    c.APPrefix,
		PA:    c.PAPrefix,
	}
}

// Validate checks the snapshot for values the daemon cannot run with
func (c Config) Validate() error {
	errFactory := errors.New()

	if strings.TrimSpace(c.SerialPort) == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "serial_port must not be empty")
	}

	if !slices.Contains(SupportedBaudRates, c.BaudRate) {
		return errFactory.WithData(errors.ErrInvalidBaudRate, c.BaudRate)
	}

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if !c.Selection.IsValid() {
		return errFactory.WithData(errors.ErrInvalidPolicy, c.Selection)
	}

	if c.ModemPrefix == "" && c.APPrefix == "" && c.PAPrefix == "" {
		return errFactory.New(errors.ErrInvalidPrefixes)
	}

	if c.TempMin >= c.TempMax || c.TempMax > c.TempCrit {
		return errFactory.WithData(errors.ErrInvalidLimits, struct {
			Min, Max, Crit int
		}{c.TempMin, c.TempMax, c.TempCrit})
	}

	r := c.Reconnect
	if r.MaxAttempts <= 0 || r.MaxFailedCycles <= 0 || r.MaxCommandFailures <= 0 ||
		r.InitialDelay <= 0 || r.MaxDelay < r.InitialDelay {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "invalid reconnect settings")
	}

	return nil
}

// Loader reads configuration from file, environment and flags. It keeps its
// own viper instance so that repeated loads re-read the file from disk.
type Loader struct {
	v    *viper.Viper
	opts options
}

// flagKeys maps command line flag names onto configuration keys
var flagKeys = map[string]string{
	"port":      "serial_port",
	"baud":      "baud_rate",
	"interval":  "interval",
	"log-level": "log_level",
}

// NewLoader prepares a loader. The file is not read until Load is called.
func NewLoader(opts ...Option) (*Loader, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	path := o.configPath
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(DefaultConfigDir)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("sysfs.hwmon_override", hwmonOverrideEnv); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if o.flags != nil {
		for name, key := range flagKeys {
			f := o.flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errFactory.Wrap(errors.ErrBindFlags, err)
			}
		}
	}

	return &Loader{v: v, opts: o}, nil
}

// Load reads the configuration sources and returns a validated snapshot
func (l *Loader) Load() (Config, error) {
	errFactory := errors.New()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	cfg.LogLevel = LogLevel(strings.ToLower(string(cfg.LogLevel)))
	if cfg.LogLevel == "warn" {
		cfg.LogLevel = LogLevelWarning
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ConfigFile returns the file used by the last Load, if any
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load is a convenience wrapper for a single load
func Load(opts ...Option) (Config, error) {
	l, err := NewLoader(opts...)
	if err != nil {
		return Config{}, err
	}

	return l.Load()
}

// Default returns the configuration used when no file is present
func Default() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial_port", DefaultSerialPort)
	v.SetDefault("baud_rate", DefaultBaudRate)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("error_value", DefaultErrorValue)
	v.SetDefault("selection", string(temperature.PolicyMax))
	v.SetDefault("temp_modem_prefix", DefaultModemPrefix)
	v.SetDefault("temp_ap_prefix", DefaultAPPrefix)
	v.SetDefault("temp_pa_prefix", DefaultPAPrefix)

	v.SetDefault("temp_min", -30)
	v.SetDefault("temp_max", 75)
	v.SetDefault("temp_crit", 85)
	v.SetDefault("temp_default", 40)

	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.initial_delay", 10)
	v.SetDefault("reconnect.max_delay", 60)
	v.SetDefault("reconnect.max_failed_cycles", 3)
	v.SetDefault("reconnect.max_command_failures", 3)

	v.SetDefault("sysfs.kernel_dir", "/sys/kernel/quectel_rm520n")
	v.SetDefault("sysfs.hwmon_root", "/sys/class/hwmon")
	v.SetDefault("sysfs.hwmon_name", "quectel_rm520n")
	v.SetDefault("sysfs.hwmon_override", "")
	v.SetDefault("sysfs.platform_paths", []string{
		"/sys/devices/platform/quectel_rm520n_temp/cur_temp",
		"/sys/devices/platform/soc/soc:quectel-temp-sensor/cur_temp",
	})
	v.SetDefault("sysfs.thermal_root", "/sys/devices/virtual/thermal")
	v.SetDefault("sysfs.thermal_types", []string{
		"quectel_rm520n", "modem_thermal", "modem-thermal", "quectel-thermal", "rm520n-thermal",
	})
	v.SetDefault("sysfs.write_timeout", 2)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.db_path", "/var/lib/modemtemp/metrics.db")
	v.SetDefault("metrics.batch_size", 6)
	v.SetDefault("metrics.batch_timeout", 60)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", ":9101")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "modemtemp/temperature")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retained", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "modemtemp:temperature")

	v.SetDefault("influxdb.enabled", false)
	v.SetDefault("influxdb.url", "http://localhost:8086")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.org", "")
	v.SetDefault("influxdb.bucket", "modem")
	v.SetDefault("influxdb.measurement", "modem_temperature")
}
