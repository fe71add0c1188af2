// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hisiflash/pkg/fwpkg"
)

var infoCmd = &cobra.Command{
	Use:   "info <firmware.fwpkg>",
	Short: "Show the contents of a FWPKG package",
	Long: `Print the header and partition table of a FWPKG package, check its
checksum and list any partition table anomalies.

Exit codes:
  0 - Package is valid
  1 - Package cannot be read, or has a bad checksum or fatal anomaly`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

// describePackage writes the package report and returns an error when the
// package should not be flashed
func describePackage(w io.Writer, fw *fwpkg.Fwpkg) error {
	fmt.Fprint(w, fwpkg.FormatHeader(fw))
	fmt.Fprintln(w)
	fmt.Fprint(w, fwpkg.FormatTable(fw))
	fmt.Fprintln(w)

	var failed error
	if err := fw.VerifyCRC(); err != nil {
		fmt.Fprintf(w, "Checksum: FAIL (%v)\n", err)
		failed = err
	} else {
		fmt.Fprintf(w, "Checksum: OK (0x%04X)\n", fw.Header().CRC)
	}

	anomalies := fwpkg.Validate(fw)
	if len(anomalies) == 0 {
		fmt.Fprintln(w, "Anomalies: none")
		return failed
	}

	fmt.Fprintf(w, "Anomalies: %d\n", len(anomalies))
	for i := range anomalies {
		a := &anomalies[i]
		severity := "warning"
		if a.Fatal() {
			severity = "FATAL"
			if failed == nil {
				failed = a
			}
		}
		fmt.Fprintf(w, "  [%s] %s\n", severity, a.Message)
	}
	return failed
}

func runInfo(cmd *cobra.Command, args []string) error {
	fw, err := fwpkg.ParseFile(args[0])
	if err != nil {
		return err
	}
	return describePackage(os.Stdout, fw)
}
