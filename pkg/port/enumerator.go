// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package port

import (
	"fmt"
	"sort"
	"strconv"

	"go.bug.st/serial/enumerator"
)

// Info describes one serial port found on the system
type Info struct {
	Path  string
	IsUSB bool
	VID   uint16
	PID   uint16
	// Manufacturer is left empty by SerialLister since the enumerator does
	// not report it. Other Listers may fill it to narrow reconnect matching.
	Manufacturer string
	Product      string
	SerialNumber string
}

// USBID formats the vendor and product ids as vvvv:pppp
func (i Info) USBID() string {
	return fmt.Sprintf("%04x:%04x", i.VID, i.PID)
}

// Lister enumerates serial ports
type Lister interface {
	List() ([]Info, error)
}

// SerialLister lists the ports known to the operating system
type SerialLister struct{}

// List implements Lister. Results are sorted by path.
func (SerialLister) List() ([]Info, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]Info, 0, len(details))
	for _, d := range details {
		info := Info{
			Path:         d.Name,
			IsUSB:        d.IsUSB,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
		}
		if d.IsUSB {
			info.VID = parseUSBID(d.VID)
			info.PID = parseUSBID(d.PID)
		}
		ports = append(ports, info)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Path < ports[j].Path })
	return ports, nil
}

func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

// Known USB-to-UART bridge vendors used on HiSilicon boards
var knownBridgeVendors = map[uint16]string{
	0x1A86: "WCH",
	0x10C4: "Silicon Labs",
	0x0403: "FTDI",
	0x067B: "Prolific",
	0x12D1: "HiSilicon",
}

// VendorName returns a label for common USB-UART bridge vendors
func VendorName(vid uint16) (string, bool) {
	name, ok := knownBridgeVendors[vid]
	return name, ok
}

// Autodetect picks the first port behind a known USB-UART bridge, falling
// back to the first USB port
func Autodetect(l Lister) (Info, error) {
	ports, err := l.List()
	if err != nil {
		return Info{}, err
	}

	var fallback *Info
	for i := range ports {
		if !ports[i].IsUSB {
			continue
		}
		if _, ok := VendorName(ports[i].VID); ok {
			return ports[i], nil
		}
		if fallback == nil {
			fallback = &ports[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Info{}, fmt.Errorf("no USB serial port found")
}
