package main

import (
	"fmt"
	"os"

	"codeberg.org/mutker/modemtemp/internal/kmod"
	"gopkg.in/yaml.v3"
)

func runConfig(args []string) int {
	fs, configPath := newFlagSet("config")
	dump := fs.Bool("dump", false, "print the effective configuration as YAML and exit")
	if code, ok := parseFlags("config", fs, args); !ok {
		return code
	}

	loader, cfg, err := loadConfig(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modemtemp: failed to load config: %v\n", err)
		return exitError
	}
	initCLILogger(cfg)

	if *dump {
		if file := loader.ConfigFile(); file != "" {
			fmt.Printf("# %s\n", file)
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "modemtemp: %v\n", err)
			return exitError
		}
		if err := enc.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "modemtemp: %v\n", err)
			return exitError
		}
		return exitOK
	}

	th := kmod.FromConfig(cfg)
	if err := kmod.Apply(cfg.Sysfs.KernelDir, th); err != nil {
		fmt.Fprintf(os.Stderr, "modemtemp: %v\n", err)
		return exitError
	}

	fmt.Printf("thresholds applied to %s: min=%d max=%d crit=%d default=%d (m°C)\n",
		cfg.Sysfs.KernelDir, th.Min, th.Max, th.Crit, th.Default)
	return exitOK
}
