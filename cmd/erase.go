// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hisiflash/pkg/flasher"
)

var (
	eraseLoader string
	eraseFwpkg  string
	eraseReset  bool
)

var eraseCmd = &cobra.Command{
	Use:   "erase [firmware.fwpkg]",
	Short: "Erase the whole flash",
	Long: `Boot the loader and erase the entire flash.

The loader comes from the package argument, --fwpkg or --loader. The loader
does not report when the erase finishes, so the command waits for the chip's
erase time before returning.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runErase,
}

func init() {
	rootCmd.AddCommand(eraseCmd)
	addLoaderFlags(eraseCmd, &eraseLoader, &eraseFwpkg)
	eraseCmd.Flags().BoolVar(&eraseReset, "reset", false, "Reset the device after erasing")
}

func runErase(cmd *cobra.Command, args []string) error {
	pkg := eraseFwpkg
	if len(args) == 1 {
		pkg = args[0]
	}
	loader, err := loadLoader(eraseLoader, pkg)
	if err != nil {
		return err
	}

	return runSession(cmd.Context(), "HISIFLASH - ERASE", func(ctx context.Context, f *flasher.SebootFlasher, r reporter) error {
		r.Stage("Booting loader")
		if err := f.BootLoader(ctx, loader, r.Progress); err != nil {
			return err
		}
		r.Stage("Erasing flash")
		if err := f.EraseAll(ctx); err != nil {
			return err
		}
		if !eraseReset {
			return nil
		}
		r.Stage("Resetting device")
		return f.Reset(ctx)
	})
}
