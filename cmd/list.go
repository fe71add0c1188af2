// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hisiflash/pkg/port"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List serial ports",
	Long: `List serial ports that may have a HiSilicon board attached.

USB adapters from known UART bridge vendors are marked. Use --all to include
ports that are not USB devices.

Exit codes:
  0 - At least one port found
  1 - No ports found`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include non-USB ports")
}

// writePortTable prints ports as an aligned table and returns how many
// were shown
func writePortTable(w io.Writer, ports []port.Info, all bool) int {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tUSB ID\tVENDOR\tPRODUCT\tSERIAL")

	shown := 0
	for _, p := range ports {
		if !p.IsUSB && !all {
			continue
		}
		usbID, vendor := "-", "-"
		if p.IsUSB {
			usbID = p.USBID()
			if name, ok := port.VendorName(p.VID); ok {
				vendor = name
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Path, usbID, vendor, dash(p.Product), dash(p.SerialNumber))
		shown++
	}
	_ = tw.Flush()
	return shown
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := port.SerialLister{}.List()
	if err != nil {
		return err
	}
	if writePortTable(os.Stdout, ports, listAll) == 0 {
		return &exitError{code: 1, err: fmt.Errorf("no serial ports found")}
	}
	return nil
}
