// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"codeberg.org/mutker/modemtemp/internal/config"
	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/logger"
	"github.com/spf13/pflag"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitRunning   = 3
	exitExhausted = 4
)

const usage = `Usage: modemtemp [command] [flags]

Commands:
  read      print the current modem temperature (default)
  daemon    run the sampling daemon
  config    apply temperature thresholds to the kernel module
  status    report whether the daemon is running
  version   print the version

Exit status:
  0  success
  1  error
  2  usage error
  3  daemon already running
  4  daemon gave up after repeated reconnect failures

Run 'modemtemp <command> --help' for command flags.
`

type command func(args []string) int

var commands = map[string]command{
	"read":    runRead,
	"daemon":  runDaemon,
	"config":  runConfig,
	"status":  runStatus,
	"version": runVersion,
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	name := "read"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		name, args = args[0], args[1:]
	}

	if name == "help" {
		fmt.Fprint(os.Stdout, usage)
		return exitOK
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "modemtemp: unknown command %q\n\n%s", name, usage)
		return exitUsage
	}

	return cmd(args)
}

// newFlagSet returns a flag set with the options every command shares
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.StringP("config", "c", "", "configuration file (default /etc/modemtemp.toml)")
	return fs, configPath
}

// parseFlags returns an exit code when the command must not continue
func parseFlags(name string, fs *pflag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK, false
		}
		return exitUsage, false
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "modemtemp %s: unexpected argument %q\n", name, fs.Arg(0))
		return exitUsage, false
	}
	return 0, true
}

func loadConfig(path string, fs *pflag.FlagSet) (*config.Loader, config.Config, error) {
	loader, err := config.NewLoader(config.WithConfigFile(path), config.WithFlags(fs))
	if err != nil {
		return nil, config.Config{}, err
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, config.Config{}, err
	}

	return loader, cfg, nil
}

// initCLILogger keeps diagnostics on stderr so command output stays clean
func initCLILogger(cfg config.Config) {
	level, err := logger.ParseLevel(string(cfg.LogLevel))
	if err != nil || level < logger.WarnLevel {
		level = logger.WarnLevel
	}
	logger.InitWithWriter(os.Stderr, level, false)
}

func runVersion(args []string) int {
	fs := pflag.NewFlagSet("version", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if code, ok := parseFlags("version", fs, args); !ok {
		return code
	}

	fmt.Printf("modemtemp %s\n", version)
	return exitOK
}
