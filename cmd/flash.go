// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/hisiflash/pkg/flasher"
	"github.com/Thermoquad/hisiflash/pkg/fwpkg"
)

var (
	flashPartitions []string
	flashNoReset    bool
	flashSkipVerify bool
)

var flashCmd = &cobra.Command{
	Use:   "flash <firmware.fwpkg>",
	Short: "Flash a FWPKG firmware package",
	Long: `Flash every partition of a FWPKG firmware package.

The package checksum and partition table are checked first. The loader
partition is then sent to the boot ROM, and the remaining partitions are
downloaded in package order. The device is reset when all partitions are
written.

Reset or power-cycle the device after starting the command so the boot ROM
sees the handshake.

Examples:
  # Flash everything
  hisiflash flash -p /dev/ttyUSB0 firmware.fwpkg

  # Flash only the application partition
  hisiflash flash firmware.fwpkg --partition app`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringSliceVar(&flashPartitions, "partition", nil, "Only flash these partitions (repeatable, comma separated)")
	flashCmd.Flags().BoolVar(&flashNoReset, "no-reset", false, "Leave the device in the loader when done")
	flashCmd.Flags().BoolVar(&flashSkipVerify, "skip-verify", false, "Flash even if the package checksum does not match")
}

// loadPackage parses a package and checks its checksum and table
func loadPackage(path string, skipVerify bool) (*fwpkg.Fwpkg, error) {
	fw, err := fwpkg.ParseFile(path)
	if err != nil {
		return nil, err
	}

	if err := fw.VerifyCRC(); err != nil {
		if !skipVerify {
			return nil, fmt.Errorf("%s: %w (use --skip-verify to flash anyway)", path, err)
		}
		logger.Warn("Package checksum mismatch ignored", zap.String("file", path), zap.Error(err))
	}

	anomalies := fwpkg.Validate(fw)
	for i := range anomalies {
		a := &anomalies[i]
		if a.Fatal() {
			return nil, fmt.Errorf("%s: %w", path, a)
		}
		logger.Warn("Package anomaly", zap.String("file", path), zap.String("partition", a.Partition), zap.String("issue", a.Message))
	}
	return fw, nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	fw, err := loadPackage(args[0], flashSkipVerify)
	if err != nil {
		return err
	}

	return runSession(cmd.Context(), "HISIFLASH - FLASH", func(ctx context.Context, f *flasher.SebootFlasher, r reporter) error {
		r.Stage(fmt.Sprintf("Flashing %s (%d partitions)", args[0], fw.PartitionCount()))
		if err := f.Flash(ctx, fw, flashPartitions, r.Progress); err != nil {
			return err
		}
		if flashNoReset {
			return nil
		}
		r.Stage("Resetting device")
		return f.Reset(ctx)
	})
}
