// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/hisiflash/pkg/iox"
	"github.com/Thermoquad/hisiflash/pkg/port"
)

var (
	monitorReset bool
	monitorHex   bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print serial output from the device",
	Long: `Continuously print what the device writes to the serial port.

Use --baud to match the application's console rate. --reset pulses the reset
line first so the boot log is captured from the start.

Supports both serial and WebSocket connections. The command exits when the
port disconnects.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorReset, "reset", false, "Pulse the reset line before monitoring")
	monitorCmd.Flags().BoolVar(&monitorHex, "hex", false, "Print a hex dump instead of raw text")
}

// monitor copies port output to w until ctx is cancelled or the port goes
// away
func monitor(ctx context.Context, p port.Port, w io.Writer, hexDump bool) error {
	out := w
	if hexDump {
		d := hex.Dumper(w)
		defer func() { _ = d.Close() }()
		out = d
	}

	buf := make([]byte, 256)
	for {
		if err := iox.Checkpoint(ctx); err != nil {
			return err
		}
		n, err := p.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if port.IsDisconnect(err) {
				logger.Info("Connection closed", zap.String("port", p.Name()))
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	p, _, err := OpenConnection()
	if err != nil {
		return err
	}
	defer iox.DiscardClose(p)

	fmt.Fprintf(os.Stderr, "HISIFLASH - MONITOR\n%s\nPress Ctrl+C to exit\n\n", connectionInfo(p))

	if monitorReset {
		if err := pulseReset(ctx, p); err != nil {
			return err
		}
	}

	err = monitor(ctx, p, os.Stdout, monitorHex)
	if iox.IsInterrupted(err) {
		return nil
	}
	return err
}
