// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hisiflash/pkg/flasher"
	"github.com/Thermoquad/hisiflash/pkg/iox"
	"github.com/Thermoquad/hisiflash/pkg/port"
)

var (
	resetLoader string
	resetFwpkg  string
)

// resetPulse is how long RTS is held asserted
const resetPulse = 100 * time.Millisecond

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the device",
	Long: `Reset the device.

Without a loader the reset line is pulsed through RTS, which works on boards
whose USB adapter drives the chip's reset pin. With --loader or --fwpkg the
loader is booted and asked to reset the chip with a RESET frame.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	addLoaderFlags(resetCmd, &resetLoader, &resetFwpkg)
}

// pulseReset toggles the modem lines to reset the chip
func pulseReset(ctx context.Context, p port.Port) error {
	if err := p.SetDTR(false); err != nil {
		return fmt.Errorf("failed to set DTR: %w", err)
	}
	if err := p.SetRTS(true); err != nil {
		return fmt.Errorf("failed to set RTS: %w", err)
	}
	if err := iox.Sleep(ctx, resetPulse); err != nil {
		return err
	}
	if err := p.SetRTS(false); err != nil {
		return fmt.Errorf("failed to set RTS: %w", err)
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if resetLoader == "" && resetFwpkg == "" {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		p, _, err := OpenConnection()
		if err != nil {
			return err
		}
		defer iox.DiscardClose(p)

		if err := pulseReset(ctx, p); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Reset pulse sent on %s\n", p.Name())
		return nil
	}

	loader, err := loadLoader(resetLoader, resetFwpkg)
	if err != nil {
		return err
	}
	return runSession(cmd.Context(), "HISIFLASH - RESET", func(ctx context.Context, f *flasher.SebootFlasher, r reporter) error {
		r.Stage("Booting loader")
		if err := f.BootLoader(ctx, loader, r.Progress); err != nil {
			return err
		}
		r.Stage("Resetting device")
		return f.Reset(ctx)
	})
}
