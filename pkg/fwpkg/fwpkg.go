// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwpkg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Thermoquad/hisiflash/pkg/crc16"
)

// Header is the decoded container header
type Header struct {
	Magic          uint32
	CRC            uint16
	PartitionCount uint16
	TotalLen       uint32
	PackageName    string // empty for V1
	Version        Version
}

// PartitionEntry describes one partition of the container
type PartitionEntry struct {
	Index       int
	Name        string
	Offset      uint32
	Length      uint32
	BurnAddress uint32
	BurnSize    uint32
	Type        PartitionType
}

// IsLoader reports whether the entry is the first-stage loader
func (e *PartitionEntry) IsLoader() bool {
	return e.Type == TypeLoader
}

// End returns the offset one past the last payload byte
func (e *PartitionEntry) End() uint64 {
	return uint64(e.Offset) + uint64(e.Length)
}

// Fwpkg is a parsed container. It is immutable after Parse and payloads
// returned by Payload alias the original buffer.
type Fwpkg struct {
	data    []byte
	header  Header
	entries []PartitionEntry
}

// ParseFile reads and parses a container from disk
func ParseFile(path string) (*Fwpkg, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes the header and the partition table. The CRC is not checked;
// call VerifyCRC for that.
func Parse(data []byte) (*Fwpkg, error) {
	if len(data) < prefixSize {
		return nil, invalidFormat("file too short for header: %d bytes", len(data))
	}

	h := Header{
		Magic:          binary.LittleEndian.Uint32(data[0:4]),
		CRC:            binary.LittleEndian.Uint16(data[4:6]),
		PartitionCount: binary.LittleEndian.Uint16(data[6:8]),
		TotalLen:       binary.LittleEndian.Uint32(data[8:12]),
	}

	switch {
	case h.Magic == MagicV1:
		h.Version = V1
	case h.Magic >= MagicV2Min && h.Magic <= MagicV2Max:
		h.Version = V2
	default:
		return nil, invalidFormat("bad magic 0x%08X", h.Magic)
	}

	if h.PartitionCount > MaxPartitions {
		return nil, invalidFormat("partition count %d exceeds %d", h.PartitionCount, MaxPartitions)
	}

	headerSize := h.Version.HeaderSize()
	if len(data) < headerSize {
		return nil, invalidFormat("file too short for %s header: %d bytes", h.Version, len(data))
	}
	if h.Version == V2 {
		h.PackageName = cString(data[prefixSize:headerSize])
	}

	entrySize := h.Version.EntrySize()
	tableEnd := headerSize + int(h.PartitionCount)*entrySize
	if len(data) < tableEnd {
		return nil, invalidFormat("file too short for %d partition entries: %d < %d bytes",
			h.PartitionCount, len(data), tableEnd)
	}

	nameSize := h.Version.NameSize()
	entries := make([]PartitionEntry, h.PartitionCount)
	for i := range entries {
		raw := data[headerSize+i*entrySize : headerSize+(i+1)*entrySize]
		fields := raw[nameSize:]
		entries[i] = PartitionEntry{
			Index:       i,
			Name:        cString(raw[:nameSize]),
			Offset:      binary.LittleEndian.Uint32(fields[0:4]),
			Length:      binary.LittleEndian.Uint32(fields[4:8]),
			BurnAddress: binary.LittleEndian.Uint32(fields[8:12]),
			BurnSize:    binary.LittleEndian.Uint32(fields[12:16]),
			Type:        PartitionType(binary.LittleEndian.Uint32(fields[16:20])),
		}
	}

	return &Fwpkg{data: data, header: h, entries: entries}, nil
}

// cString returns the bytes before the first NUL
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Header returns the decoded header
func (f *Fwpkg) Header() Header {
	return f.header
}

// Version returns the header generation
func (f *Fwpkg) Version() Version {
	return f.header.Version
}

// PartitionCount returns the number of entries in the partition table
func (f *Fwpkg) PartitionCount() int {
	return len(f.entries)
}

// Size returns the container length in bytes
func (f *Fwpkg) Size() int {
	return len(f.data)
}

// Bytes returns the raw container
func (f *Fwpkg) Bytes() []byte {
	return f.data
}

// tableEnd is the offset one past the last partition entry
func (f *Fwpkg) tableEnd() int {
	return f.header.Version.HeaderSize() + len(f.entries)*f.header.Version.EntrySize()
}

// ComputeCRC calculates the checksum over the header extension and the
// partition table
func (f *Fwpkg) ComputeCRC() uint16 {
	return crc16.Checksum(f.data[crcOffset:f.tableEnd()])
}

// VerifyCRC compares the stored header checksum with the computed one
func (f *Fwpkg) VerifyCRC() error {
	actual := f.ComputeCRC()
	if actual != f.header.CRC {
		return &ChecksumMismatchError{Expected: actual, Actual: f.header.CRC}
	}
	return nil
}

// Partitions returns every entry in table order
func (f *Fwpkg) Partitions() []*PartitionEntry {
	out := make([]*PartitionEntry, len(f.entries))
	for i := range f.entries {
		out[i] = &f.entries[i]
	}
	return out
}

// Partition looks up an entry by name
func (f *Fwpkg) Partition(name string) (*PartitionEntry, bool) {
	for i := range f.entries {
		if f.entries[i].Name == name {
			return &f.entries[i], true
		}
	}
	return nil, false
}

// Loader returns the first-stage loader entry, if any
func (f *Fwpkg) Loader() (*PartitionEntry, bool) {
	for i := range f.entries {
		if f.entries[i].IsLoader() {
			return &f.entries[i], true
		}
	}
	return nil, false
}

// NormalPartitions returns every non-loader entry in table order
func (f *Fwpkg) NormalPartitions() []*PartitionEntry {
	out := make([]*PartitionEntry, 0, len(f.entries))
	for i := range f.entries {
		if !f.entries[i].IsLoader() {
			out = append(out, &f.entries[i])
		}
	}
	return out
}

// Payload returns the partition bytes as a view into the container
func (f *Fwpkg) Payload(e *PartitionEntry) ([]byte, error) {
	if e.End() > uint64(len(f.data)) {
		return nil, invalidFormat("partition %q range 0x%X+0x%X exceeds container size 0x%X",
			e.Name, e.Offset, e.Length, len(f.data))
	}
	return f.data[e.Offset:e.End():e.End()], nil
}
