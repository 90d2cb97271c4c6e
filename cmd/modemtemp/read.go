package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/kmod"
	"codeberg.org/mutker/modemtemp/internal/logger"
	"codeberg.org/mutker/modemtemp/internal/modem"
	"codeberg.org/mutker/modemtemp/internal/pid"
	"codeberg.org/mutker/modemtemp/internal/sink"
	"codeberg.org/mutker/modemtemp/internal/temperature"
	"github.com/charmbracelet/lipgloss"
)

// Where a reading came from
const (
	sourceSysfs  = "sysfs"
	sourceHwmon  = "hwmon"
	sourceDirect = "direct"
)

type readResult struct {
	MilliCelsius int    `json:"milli_celsius,omitempty"`
	Celsius      string `json:"celsius,omitempty"`
	Available    bool   `json:"available"`
	Value        string `json:"value"`
	Source       string `json:"source,omitempty"`
}

var (
	styleTime    = lipgloss.NewStyle().Faint(true)
	styleSource  = lipgloss.NewStyle().Faint(true).Italic(true)
	styleNormal  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleWarm    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	styleHot     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	styleMissing = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func runRead(args []string) int {
	fs, configPath := newFlagSet("read")
	asJSON := fs.BoolP("json", "j", false, "print JSON")
	celsius := fs.BoolP("celsius", "C", false, "print degrees Celsius instead of milli-Celsius")
	watch := fs.BoolP("watch", "w", false, "keep printing until interrupted")
	every := fs.DurationP("every", "n", 2*time.Second, "refresh period for --watch")
	pidDir := fs.String("pid-dir", pid.DefaultDir, "directory holding the daemon pid file")
	if code, ok := parseFlags("read", fs, args); !ok {
		return code
	}

	_, cfg, err := loadConfig(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modemtemp: failed to load config: %v\n", err)
		return exitError
	}
	initCLILogger(cfg)

	_, daemonRunning := pid.Running(*pidDir)

	if !*watch {
		res := readTemperature(context.Background(), cfg, !daemonRunning)
		printResult(res, cfg, *asJSON, *celsius)
		if !res.Available {
			return exitError
		}
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	for {
		res := readTemperature(ctx, cfg, !daemonRunning)
		if *asJSON {
			printResult(res, cfg, true, *celsius)
		} else {
			fmt.Println(watchLine(time.Now(), res, cfg, *celsius))
		}

		select {
		case <-ctx.Done():
			return exitOK
		case <-ticker.C:
		}
	}
}

// readTemperature tries the kernel module, then hwmon, then asks the modem
// directly. The serial port is left alone while a daemon owns it.
func readTemperature(ctx context.Context, cfg config.Config, direct bool) readResult {
	sentinel := readResult{Value: cfg.ErrorValue}

	if v, ok, err := kmod.ReadValue(filepath.Join(cfg.Sysfs.KernelDir, kmod.TempFile)); err == nil && ok {
		return valueResult(v, sourceSysfs)
	} else if err != nil {
		logger.Debug().Err(err).Msg("Kernel module temperature not readable")
	}

	if path, err := sink.HwmonResolver(cfg.Sysfs.HwmonRoot, cfg.Sysfs.HwmonName, cfg.Sysfs.HwmonOverride).Resolve(); err == nil {
		if v, ok, err := kmod.ReadValue(path); err == nil && ok {
			return valueResult(v, sourceHwmon)
		}
	}

	if !direct {
		logger.Debug().Msg("Daemon is running, skipping direct modem query")
		return sentinel
	}

	v, err := queryModem(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("Direct modem query failed")
		return sentinel
	}

	return valueResult(v, sourceDirect)
}

func queryModem(ctx context.Context, cfg config.Config) (int, error) {
	port, err := modem.Open(cfg.SerialPort, cfg.BaudRate)
	if err != nil {
		return 0, err
	}
	defer port.Close()

	raw, err := port.Exchange(ctx, temperature.Command)
	if err != nil {
		return 0, err
	}

	reading, err := temperature.Parse(raw, cfg.Prefixes())
	if err != nil {
		return 0, err
	}

	return temperature.Select(reading, cfg.Selection)
}

func valueResult(milli int, source string) readResult {
	return readResult{
		MilliCelsius: milli,
		Celsius:      formatCelsius(milli),
		Available:    true,
		Value:        strconv.Itoa(milli),
		Source:       source,
	}
}

func formatCelsius(milli int) string {
	return strconv.FormatFloat(float64(milli)/1000, 'f', 1, 64)
}

func printResult(res readResult, cfg config.Config, asJSON, celsius bool) {
	if asJSON {
		out, err := json.Marshal(res)
		if err != nil {
			fmt.Fprintf(os.Stderr, "modemtemp: %v\n", err)
			return
		}
		fmt.Println(string(out))
		return
	}

	switch {
	case !res.Available:
		fmt.Println(cfg.ErrorValue)
	case celsius:
		fmt.Println(res.Celsius)
	default:
		fmt.Println(res.Value)
	}
}

func watchLine(at time.Time, res readResult, cfg config.Config, celsius bool) string {
	stamp := styleTime.Render(at.Format("15:04:05"))
	if !res.Available {
		return stamp + "  " + styleMissing.Render(cfg.ErrorValue)
	}

	text := res.Value + " m°C"
	if celsius {
		text = res.Celsius + " °C"
	}

	style := styleNormal
	switch {
	case res.MilliCelsius >= cfg.TempCrit*1000:
		style = styleHot
	case res.MilliCelsius >= cfg.TempMax*1000:
		style = styleWarm
	}

	return stamp + "  " + style.Render(text) + "  " + styleSource.Render(res.Source)
}
