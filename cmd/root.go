// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/hisiflash/pkg/chip"
	"github.com/Thermoquad/hisiflash/pkg/config"
	"github.com/Thermoquad/hisiflash/pkg/flasher"
)

// globalOptions holds the persistent flags after merging with the config
// file
type globalOptions struct {
	configPath string
	port       string
	baud       int
	targetBaud int
	chip       string
	retries    int
	verbose    int
	noTUI      bool

	// WebSocket bridge
	username string
	insecure bool
}

var (
	gopts  globalOptions
	conf   = &config.Config{}
	family chip.Family
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "hisiflash",
	Short: "Firmware flasher for HiSilicon WS63 / BS2X MCUs",
	Long: `hisiflash - Flash HiSilicon WS63 and BS2X series MCUs over the serial boot ROM.

Talks to the boot ROM with the SEBOOT protocol, boots the first-stage
loader from a FWPKG firmware package and downloads every partition over
YMODEM-1K. USB adapters that re-enumerate during a reset are found again
by their VID/PID and serial number.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --port ws://host/path [--username user]
  Omitting --port picks the first USB serial adapter.

For WebSocket authentication, the password is read from the HISIFLASH_PASSWORD
environment variable or the config file, or prompted interactively if not set.

Defaults for every flag can be set in $XDG_CONFIG_HOME/hisiflash/config.yaml.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&gopts.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/hisiflash/config.yaml)")

	// Connection flags
	flags.StringVarP(&gopts.port, "port", "p", "", "Serial port device or ws:// bridge URL")
	flags.IntVarP(&gopts.baud, "baud", "b", 0, "Initial baud rate (default: chip boot ROM rate)")
	flags.IntVar(&gopts.targetBaud, "target-baud", 0, "Baud rate after the loader starts (default: chip rate)")
	flags.StringVar(&gopts.chip, "chip", chip.Default, "Chip family ("+strings.Join(chip.Names(), ", ")+")")
	flags.IntVar(&gopts.retries, "retries", flasher.DefaultRetries, "Retries per partition")

	// WebSocket connection flags
	flags.StringVar(&gopts.username, "username", "", "Username for HTTP Basic auth (ws:// only)")
	flags.BoolVar(&gopts.insecure, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Output flags
	flags.CountVarP(&gopts.verbose, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	flags.BoolVar(&gopts.noTUI, "no-tui", false, "Plain text progress instead of the terminal UI")
}

// setup loads the config file, merges it under the flags and builds the
// logger
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if gopts.configPath != "" {
		conf, err = config.Load(gopts.configPath)
	} else {
		conf, err = config.LoadDefault()
	}
	if err != nil {
		return err
	}

	mergeConfig(&gopts, conf, cmd.Flags().Changed)

	family, err = chip.Lookup(gopts.chip)
	if err != nil {
		return err
	}
	if gopts.baud == 0 {
		gopts.baud = family.InitialBaud
	}
	if gopts.targetBaud == 0 {
		gopts.targetBaud = family.TargetBaud
	}
	if gopts.retries < 0 {
		return fmt.Errorf("--retries must not be negative")
	}

	logger = newLogger(gopts.verbose, os.Stderr)
	return nil
}

// mergeConfig copies config values into o for every flag the user did not
// set explicitly
func mergeConfig(o *globalOptions, c *config.Config, changed func(string) bool) {
	if !changed("port") && c.Port != "" {
		o.port = c.Port
	}
	if !changed("baud") && c.Baud != 0 {
		o.baud = c.Baud
	}
	if !changed("target-baud") && c.TargetBaud != 0 {
		o.targetBaud = c.TargetBaud
	}
	if !changed("chip") && c.Chip != "" {
		o.chip = c.Chip
	}
	if !changed("retries") && c.Retries != nil {
		o.retries = *c.Retries
	}
	if !changed("no-tui") && c.NoTUI {
		o.noTUI = true
	}
	if !changed("username") && c.Username != "" {
		o.username = c.Username
	}
	if !changed("no-ssl-verify") && c.Insecure {
		o.insecure = true
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
