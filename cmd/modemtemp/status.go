package main

import (
	"fmt"
	"path/filepath"

	"codeberg.org/mutker/modemtemp/internal/kmod"
	"codeberg.org/mutker/modemtemp/internal/pid"
)

func runStatus(args []string) int {
	fs, configPath := newFlagSet("status")
	pidDir := fs.String("pid-dir", pid.DefaultDir, "directory holding the daemon pid file")
	if code, ok := parseFlags("status", fs, args); !ok {
		return code
	}

	pidNum, running := pid.Running(*pidDir)
	if running {
		fmt.Printf("daemon: running (pid %d)\n", pidNum)
	} else {
		fmt.Println("daemon: not running")
	}

	if _, cfg, err := loadConfig(*configPath, nil); err == nil {
		initCLILogger(cfg)
		path := filepath.Join(cfg.Sysfs.KernelDir, kmod.TempFile)
		switch v, ok, err := kmod.ReadValue(path); {
		case err != nil:
			fmt.Printf("kernel: %s not readable\n", path)
		case ok:
			fmt.Printf("kernel: %d m°C (%s °C)\n", v, formatCelsius(v))
		default:
			fmt.Printf("kernel: %s\n", cfg.ErrorValue)
		}
	}

	if !running {
		return exitError
	}
	return exitOK
}
