// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// hisiflash - HiSilicon MCU firmware flasher
//
// A CLI tool for flashing FWPKG firmware packages to HiSilicon WS63 and
// BS2X series MCUs through the serial boot ROM.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/hisiflash/cmd"
	"github.com/Thermoquad/hisiflash/pkg/iox"
)

func main() {
	err := cmd.Execute()
	switch {
	case err == nil:
	case iox.IsInterrupted(err):
		fmt.Fprintln(os.Stderr, "Interrupted")
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cmd.ExitCode(err))
}
