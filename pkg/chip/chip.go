// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package chip describes the HiSilicon chip families the flasher supports.
package chip

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Family holds the per-chip defaults used by the flasher
type Family struct {
	Name        string
	Description string

	// InitialBaud is the rate the boot ROM listens on
	InitialBaud int
	// TargetBaud is the rate requested after the loader boots
	TargetBaud int
	// BaudSwitch reports whether the loader accepts SetBaudRate
	BaudSwitch bool

	// EraseSettle is how long a full-chip erase takes to complete
	EraseSettle time.Duration
	// PartitionDelay is the idle time the loader needs between partitions
	PartitionDelay time.Duration
}

var families = map[string]Family{
	"ws63": {
		Name:           "ws63",
		Description:    "WS63 Wi-Fi 6 / BLE SoC",
		InitialBaud:    115200,
		TargetBaud:     921600,
		BaudSwitch:     true,
		EraseSettle:    10 * time.Second,
		PartitionDelay: 100 * time.Millisecond,
	},
	"bs2x": {
		Name:           "bs2x",
		Description:    "BS2X BLE / SLE SoC",
		InitialBaud:    115200,
		TargetBaud:     2000000,
		BaudSwitch:     true,
		EraseSettle:    5 * time.Second,
		PartitionDelay: 100 * time.Millisecond,
	},
	"bs25": {
		Name:           "bs25",
		Description:    "BS25 BLE / SLE SoC",
		InitialBaud:    115200,
		TargetBaud:     115200,
		BaudSwitch:     false,
		EraseSettle:    5 * time.Second,
		PartitionDelay: 100 * time.Millisecond,
	},
}

// Default is the family used when none is specified
const Default = "ws63"

// Lookup returns the family with the given name
func Lookup(name string) (Family, error) {
	f, ok := families[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Family{}, fmt.Errorf("unknown chip %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return f, nil
}

// Names lists the supported family names in sorted order
func Names() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportsBaud reports whether baud can be used as the transfer rate
func (f Family) SupportsBaud(baud int) bool {
	return baud == f.InitialBaud || f.BaudSwitch
}
