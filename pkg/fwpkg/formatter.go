// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwpkg

import (
	"fmt"
	"strings"
)

// FormatHeader formats the container header into a human-readable string
func FormatHeader(f *Fwpkg) string {
	h := f.Header()

	result := fmt.Sprintf("Format:      %s (magic 0x%08X)\n", h.Version, h.Magic)
	if h.Version == V2 {
		result += fmt.Sprintf("Package:     %s\n", h.PackageName)
	}
	result += fmt.Sprintf("Partitions:  %d\n", h.PartitionCount)
	result += fmt.Sprintf("Total size:  %d bytes\n", h.TotalLen)

	if err := f.VerifyCRC(); err != nil {
		result += fmt.Sprintf("CRC:         0x%04X (INVALID, computed 0x%04X)\n", h.CRC, f.ComputeCRC())
	} else {
		result += fmt.Sprintf("CRC:         0x%04X (ok)\n", h.CRC)
	}

	return result
}

// FormatTable formats the partition table, one row per entry
func FormatTable(f *Fwpkg) string {
	nameWidth := len("NAME")
	for _, e := range f.Partitions() {
		if len(e.Name) > nameWidth {
			nameWidth = len(e.Name)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-3s  %-*s  %-12s  %-10s  %-10s  %-10s  %-10s\n",
		"#", nameWidth, "NAME", "TYPE", "OFFSET", "LENGTH", "BURN ADDR", "BURN SIZE")
	for _, e := range f.Partitions() {
		fmt.Fprintf(&sb, "%-3d  %-*s  %-12s  0x%08X  0x%08X  0x%08X  0x%08X\n",
			e.Index, nameWidth, e.Name, e.Type, e.Offset, e.Length, e.BurnAddress, e.BurnSize)
	}
	return sb.String()
}
