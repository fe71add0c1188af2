// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/hisiflash/pkg/fwpkg"
)

var (
	packOutput string
	packV2     bool
	packName   string
)

var packCmd = &cobra.Command{
	Use:   "pack -o out.fwpkg NAME=FILE@ADDR[:TYPE]...",
	Short: "Build a FWPKG package from binaries",
	Long: `Build a FWPKG package from raw binaries.

Each partition is given as NAME=FILE@ADDR with an optional :TYPE suffix.
The type defaults to "loader" for a partition named loaderboot and to
"normal" otherwise. The loader must be listed first.

Examples:
  hisiflash pack -o fw.fwpkg loaderboot=loaderboot.bin@0 app=app.bin@0x230000
  hisiflash pack --v2 --name demo -o fw.fwpkg loaderboot=lb.bin@0:loader nv=nv.bin@0x5FC000:kv_nv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)
	packCmd.Flags().StringVarP(&packOutput, "output", "o", "", "Output package path")
	packCmd.Flags().BoolVar(&packV2, "v2", false, "Write a V2 package")
	packCmd.Flags().StringVar(&packName, "name", "", "V2 package name")
	_ = packCmd.MarkFlagRequired("output")
}

type packEntry struct {
	name string
	path string
	addr uint32
	typ  fwpkg.PartitionType
}

// parsePackArg parses NAME=FILE@ADDR[:TYPE]
func parsePackArg(arg string) (packEntry, error) {
	name, rest, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return packEntry{}, fmt.Errorf("invalid partition %q: expected NAME=FILE@ADDR[:TYPE]", arg)
	}

	ps := packEntry{name: name, typ: fwpkg.TypeNormal}
	if name == "loaderboot" {
		ps.typ = fwpkg.TypeLoader
	}

	// A type suffix is only recognised after the address
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if colon := strings.LastIndex(rest, ":"); colon > at {
			typ, err := fwpkg.ParsePartitionType(rest[colon+1:])
			if err != nil {
				return packEntry{}, fmt.Errorf("invalid partition %q: %w", arg, err)
			}
			ps.typ = typ
			rest = rest[:colon]
		}
	}

	path, addr, err := parseBinArg(rest)
	if err != nil {
		return packEntry{}, fmt.Errorf("invalid partition %q: %w", arg, err)
	}
	ps.path = path
	ps.addr = addr
	return ps, nil
}

func runPack(cmd *cobra.Command, args []string) error {
	version := fwpkg.V1
	if packV2 {
		version = fwpkg.V2
	} else if packName != "" {
		return fmt.Errorf("--name requires --v2")
	}

	b := fwpkg.NewBuilder(version).SetPackageName(packName)
	for _, arg := range args {
		ps, err := parsePackArg(arg)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(ps.path)
		if err != nil {
			return fmt.Errorf("cannot read %s: %w", ps.path, err)
		}
		b.AddPartition(ps.name, ps.typ, ps.addr, data)
	}

	out, err := b.Build()
	if err != nil {
		return err
	}

	// Round trip through the parser so warnings match what flash reports
	fw, err := fwpkg.Parse(out)
	if err != nil {
		return fmt.Errorf("built package does not parse: %w", err)
	}
	anomalies := fwpkg.Validate(fw)
	for i := range anomalies {
		a := &anomalies[i]
		if a.Fatal() {
			return fmt.Errorf("refusing to write %s: %w", packOutput, a)
		}
		logger.Warn("Package anomaly", zap.String("partition", a.Partition), zap.String("issue", a.Message))
	}

	if err := os.WriteFile(packOutput, out, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", packOutput, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%s, %d partitions, %d bytes, CRC 0x%04X)\n",
		packOutput, version, fw.PartitionCount(), len(out), fw.Header().CRC)
	return nil
}
