// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fwpkg reads and writes FWPKG firmware containers.
//
// A container is a little-endian header followed by a table of partition
// entries and the concatenated partition payloads. Two header generations
// exist: V1 with 32-byte partition names and V2, which adds a package name
// and widens partition names to 260 bytes. Both protect the header and the
// entry table with a CRC-16/XMODEM checksum.
package fwpkg

import (
	"fmt"
	"strings"
)

// Header magic values
const (
	MagicV1    = 0xEFBEADDF
	MagicV2Min = 0xEFBEADD0
	MagicV2Max = 0xEFBEADDE
)

// Layout sizes
const (
	prefixSize = 12 // magic(4) crc(2) count(2) total_len(4)

	HeaderSizeV1 = prefixSize
	HeaderSizeV2 = prefixSize + NameSizeV2

	NameSizeV1 = 32
	NameSizeV2 = 260

	EntrySizeV1 = NameSizeV1 + 5*4
	EntrySizeV2 = NameSizeV2 + 5*4 + 4

	// crcOffset is the first byte covered by the checksum
	crcOffset = 6

	MaxPartitions = 255
)

// Version identifies the header generation
type Version int

const (
	V1 Version = iota + 1
	V2
)

func (v Version) String() string {
	switch v {
	case V1:
		return "V1"
	case V2:
		return "V2"
	default:
		return fmt.Sprintf("Version(%d)", int(v))
	}
}

// HeaderSize returns the header length for the generation
func (v Version) HeaderSize() int {
	if v == V2 {
		return HeaderSizeV2
	}
	return HeaderSizeV1
}

// EntrySize returns the length of one partition entry for the generation
func (v Version) EntrySize() int {
	if v == V2 {
		return EntrySizeV2
	}
	return EntrySizeV1
}

// NameSize returns the width of the partition name field
func (v Version) NameSize() int {
	if v == V2 {
		return NameSizeV2
	}
	return NameSizeV1
}

// PartitionType is the type code stored in each partition entry
type PartitionType uint32

// Partition type codes
const (
	TypeLoader PartitionType = iota
	TypeNormal
	TypeKvNv
	TypeEfuse
	TypeOtp
	TypeFlashBoot
	TypeFactory
	TypeVersion
	TypeSecurityA
	TypeSecurityB
	TypeSecurityC
	TypeProtocolA
	TypeAppsA
	TypeRadioConfig
	TypeRom
	TypeEmmc
	TypeDatabase
)

var partitionTypeNames = [...]string{
	TypeLoader:      "loader",
	TypeNormal:      "normal",
	TypeKvNv:        "kv_nv",
	TypeEfuse:       "efuse",
	TypeOtp:         "otp",
	TypeFlashBoot:   "flashboot",
	TypeFactory:     "factory",
	TypeVersion:     "version",
	TypeSecurityA:   "security_a",
	TypeSecurityB:   "security_b",
	TypeSecurityC:   "security_c",
	TypeProtocolA:   "protocol_a",
	TypeAppsA:       "apps_a",
	TypeRadioConfig: "radio_config",
	TypeRom:         "rom",
	TypeEmmc:        "emmc",
	TypeDatabase:    "database",
}

// Known reports whether t is one of the defined type codes
func (t PartitionType) Known() bool {
	return int(t) < len(partitionTypeNames)
}

func (t PartitionType) String() string {
	if t.Known() {
		return partitionTypeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// ParsePartitionType converts a type name (as printed by String) back into
// a type code
func ParsePartitionType(name string) (PartitionType, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for i, n := range partitionTypeNames {
		if n == lower {
			return PartitionType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown partition type %q", name)
}
