package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/daemon"
	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/kmod"
	"codeberg.org/mutker/modemtemp/internal/logger"
	"codeberg.org/mutker/modemtemp/internal/metrics"
	"codeberg.org/mutker/modemtemp/internal/modem"
	"codeberg.org/mutker/modemtemp/internal/pid"
	"codeberg.org/mutker/modemtemp/internal/reconnect"
	"codeberg.org/mutker/modemtemp/internal/sink"
	"codeberg.org/mutker/modemtemp/internal/stats"
	"codeberg.org/mutker/modemtemp/internal/telemetry"
)

// Replaced in tests
var (
	openTransport daemon.Opener       = openModem
	daemonSleep   reconnect.SleepFunc = reconnect.Sleep
)

func runDaemon(args []string) int {
	fs, configPath := newFlagSet("daemon")
	fs.StringP("port", "p", config.DefaultSerialPort, "serial port of the modem AT interface")
	fs.IntP("baud", "b", config.DefaultBaudRate, "serial baud rate")
	fs.IntP("interval", "i", config.DefaultInterval, "seconds between readings")
	fs.StringP("log-level", "l", string(config.DefaultLogLevel), "log level: debug, info, warning, error")
	pidDir := fs.String("pid-dir", pid.DefaultDir, "directory for the pid and lock files")
	if code, ok := parseFlags("daemon", fs, args); !ok {
		return code
	}

	loader, cfg, err := loadConfig(*configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modemtemp: failed to load config: %v\n", err)
		return exitError
	}

	level, _ := logger.ParseLevel(string(cfg.LogLevel))
	logger.Init(level, logger.IsService())
	logger.Debug().Str("file", loader.ConfigFile()).Msg("Config loaded")

	lock, err := pid.Acquire(*pidDir)
	if err != nil {
		if errors.HasCode(err, errors.ErrAlreadyRunning) {
			logger.Error().Err(err).Msg("Another instance is already running")
			return exitRunning
		}
		logger.Error().Err(err).Msg("Failed to acquire daemon lock")
		return exitError
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release daemon lock")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := sink.NewPublisher(time.Duration(cfg.Sysfs.WriteTimeout)*time.Second, buildSinks(ctx, cfg)...)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Debug().Err(err).Msg("Failed to close sinks")
		}
	}()

	history, err := metrics.NewService(metrics.FromConfig(cfg.Metrics))
	if err != nil {
		logger.Error().Err(err).Msg("Reading history unavailable, continuing without it")
		history = nil
	}
	if history != nil {
		defer history.Close()
	}

	st := stats.New()
	opts := []daemon.Option{
		daemon.WithStats(st),
		daemon.WithSleep(daemonSleep),
		daemon.WithThresholdHook(func(th kmod.Thresholds) error {
			return kmod.Apply(cfg.Sysfs.KernelDir, th)
		}),
	}
	if history != nil {
		opts = append(opts, daemon.WithHistory(history))
	}

	var wg sync.WaitGroup
	if tcfg := telemetry.FromConfig(cfg.Telemetry); tcfg.Enabled {
		exporter, err := telemetry.NewExporter(st, kmod.FromConfig(cfg))
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create exporter")
			return exitError
		}
		opts = append(opts, daemon.WithThresholdHook(func(th kmod.Thresholds) error {
			exporter.SetThresholds(th)
			return nil
		}))

		hub := telemetry.NewHub()
		publisher.Add(hub)

		var source telemetry.HistorySource
		if history != nil {
			source = history
		}
		server := telemetry.NewServer(tcfg, exporter, st, hub, source)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Telemetry server failed")
			}
		}()
	}
	defer wg.Wait()
	defer cancel()

	d := daemon.New(cfg, loader, openTransport, publisher, opts...)
	go handleSignals(d.Stop)

	if err := d.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Daemon stopped")
		if errors.HasCode(err, reconnect.ErrExhausted) {
			return exitExhausted
		}
		return exitError
	}

	logger.Info().Msg("Exiting...")
	return exitOK
}

func openModem(target string, baud int) (modem.Transport, error) {
	p, err := modem.Open(target, baud)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func handleSignals(stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	stop()
}

// buildSinks assembles the publish targets in write order: the kernel
// module, hwmon, platform files, a thermal zone, then network sinks. A
// network sink that cannot connect is left out.
func buildSinks(ctx context.Context, cfg config.Config) []sink.Sink {
	sc := cfg.Sysfs
	sinks := []sink.Sink{
		sink.NewFileSink("kernel", filepath.Join(sc.KernelDir, kmod.TempFile)),
		sink.NewResolvedFileSink("hwmon", sink.HwmonResolver(sc.HwmonRoot, sc.HwmonName, sc.HwmonOverride)),
	}

	for i, path := range sc.PlatformPaths {
		if _, err := os.Stat(path); err != nil {
			logger.Debug().Str("path", path).Msg("Platform temperature file not present")
			continue
		}
		sinks = append(sinks, sink.NewFileSink("platform"+strconv.Itoa(i), path))
	}

	sinks = append(sinks, sink.NewResolvedFileSink("thermal", sink.ThermalZoneResolver(sc.ThermalRoot, sc.ThermalTypes)))

	if cfg.MQTT.Enabled {
		if s, err := sink.NewMQTTSink(cfg.MQTT); err != nil {
			logger.Error().Err(err).Msg("MQTT sink disabled")
		} else {
			sinks = append(sinks, s)
		}
	}

	if cfg.Redis.Enabled {
		if s, err := sink.NewRedisSink(ctx, cfg.Redis); err != nil {
			logger.Error().Err(err).Msg("Redis sink disabled")
		} else {
			sinks = append(sinks, s)
		}
	}

	if cfg.InfluxDB.Enabled {
		if s, err := sink.NewInfluxSink(ctx, cfg.InfluxDB); err != nil {
			logger.Error().Err(err).Msg("InfluxDB sink disabled")
		} else {
			sinks = append(sinks, s)
		}
	}

	return sinks
}
