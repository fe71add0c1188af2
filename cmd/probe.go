// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hisiflash/pkg/flasher"
	"github.com/Thermoquad/hisiflash/pkg/iox"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the boot ROM answers the handshake",
	Long: `Run the boot ROM handshake without flashing anything.

Reset the device after starting the command. The handshake is retried until
the boot ROM acknowledges it or the timeout expires. The device is left in
the boot ROM.

Exit codes:
  0 - Boot ROM acknowledged the handshake
  1 - No acknowledgement before the timeout
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 0, "Handshake timeout (default from config, 30s)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	timing, err := conf.HandshakeTiming(flasher.DefaultHandshakeTiming())
	if err != nil {
		return err
	}
	if probeTimeout > 0 {
		timing.Timeout = probeTimeout
	}
	timing.Attempts = 1

	p, _, err := OpenConnection()
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("connection error: %w", err)}
	}

	fmt.Fprintf(os.Stderr, "HISIFLASH - PROBE\n%s | Chip: %s\nTimeout: %s\n\n", connectionInfo(p), family.Name, timing.Timeout)
	fmt.Fprintln(os.Stderr, "Waiting for boot ROM, reset the device now...")

	h := flasher.NewHandshakeController(p, uint32(gopts.targetBaud), timing, logger.Named("handshake"))
	defer func() { iox.DiscardClose(h.Port()) }()

	start := time.Now()
	err = h.Connect(ctx)
	switch {
	case err == nil:
		fmt.Printf("Boot ROM acknowledged after %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	case iox.IsInterrupted(err):
		return err
	case errors.Is(err, flasher.ErrTimeout):
		return &exitError{code: 1, err: err}
	default:
		return &exitError{code: 2, err: err}
	}
}
