// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hisiflash/pkg/flasher"
)

var (
	writeLoader  string
	writeFwpkg   string
	writeNoReset bool
)

var writeCmd = &cobra.Command{
	Use:   "write FILE@ADDR...",
	Short: "Write raw binaries at fixed flash addresses",
	Long: `Boot a loader and write raw binary images at the given addresses.

The loader comes from --loader, or from the loader partition of a package
given with --fwpkg. Addresses accept decimal, 0x hex and 0o octal.

Examples:
  hisiflash write --loader loaderboot.bin app.bin@0x230000
  hisiflash write --fwpkg firmware.fwpkg nv.bin@0x5FC000 boot.bin@0x200000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
	addLoaderFlags(writeCmd, &writeLoader, &writeFwpkg)
	writeCmd.Flags().BoolVar(&writeNoReset, "no-reset", false, "Leave the device in the loader when done")
}

func addLoaderFlags(cmd *cobra.Command, loader, pkg *string) {
	cmd.Flags().StringVar(loader, "loader", "", "Loader image file")
	cmd.Flags().StringVar(pkg, "fwpkg", "", "Take the loader from this firmware package")
	cmd.MarkFlagsMutuallyExclusive("loader", "fwpkg")
}

// loadLoader reads the loader image from a file or a package
func loadLoader(loaderPath, pkgPath string) ([]byte, error) {
	switch {
	case loaderPath != "":
		data, err := os.ReadFile(loaderPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read loader: %w", err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("loader %s is empty", loaderPath)
		}
		return data, nil
	case pkgPath != "":
		fw, err := loadPackage(pkgPath, false)
		if err != nil {
			return nil, err
		}
		entry, ok := fw.Loader()
		if !ok {
			return nil, fmt.Errorf("%s has no loader partition", pkgPath)
		}
		return fw.Payload(entry)
	default:
		return nil, fmt.Errorf("a loader is required: use --loader or --fwpkg")
	}
}

// parseAddress parses a flash address in decimal, hex or octal
func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint32(v), nil
}

// parseBinArg splits FILE@ADDR. The last '@' separates the address so
// paths may contain '@'.
func parseBinArg(arg string) (path string, addr uint32, err error) {
	i := strings.LastIndex(arg, "@")
	if i <= 0 || i == len(arg)-1 {
		return "", 0, fmt.Errorf("invalid binary %q: expected FILE@ADDR", arg)
	}
	addr, err = parseAddress(arg[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid binary %q: %w", arg, err)
	}
	return arg[:i], addr, nil
}

func loadBins(args []string) ([]flasher.Binary, error) {
	bins := make([]flasher.Binary, 0, len(args))
	for _, arg := range args {
		path, addr, err := parseBinArg(arg)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		bins = append(bins, flasher.Binary{Name: filepath.Base(path), Address: addr, Data: data})
	}
	return bins, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	loader, err := loadLoader(writeLoader, writeFwpkg)
	if err != nil {
		return err
	}
	bins, err := loadBins(args)
	if err != nil {
		return err
	}

	return runSession(cmd.Context(), "HISIFLASH - WRITE", func(ctx context.Context, f *flasher.SebootFlasher, r reporter) error {
		r.Stage(fmt.Sprintf("Writing %d binaries", len(bins)))
		if err := f.WriteBins(ctx, loader, bins, r.Progress); err != nil {
			return err
		}
		if writeNoReset {
			return nil
		}
		r.Stage("Resetting device")
		return f.Reset(ctx)
	})
}
