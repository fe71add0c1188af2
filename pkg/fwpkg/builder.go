// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwpkg

import (
	"encoding/binary"
	"fmt"

	"github.com/Thermoquad/hisiflash/pkg/crc16"
)

// Image is one partition to be packed
type Image struct {
	Name        string
	Type        PartitionType
	BurnAddress uint32
	BurnSize    uint32 // zero means len(Data)
	Data        []byte
}

// Builder assembles a container. Payloads are laid out back to back after
// the partition table, in the order they were added.
type Builder struct {
	version Version
	magic   uint32
	name    string
	images  []Image
}

// NewBuilder creates a builder for the given header generation
func NewBuilder(v Version) *Builder {
	b := &Builder{version: v, magic: MagicV1}
	if v == V2 {
		b.magic = MagicV2Max
	}
	return b
}

// SetPackageName sets the V2 package name. Ignored for V1.
func (b *Builder) SetPackageName(name string) *Builder {
	b.name = name
	return b
}

// SetMagic overrides the header magic. It must be valid for the builder's
// generation.
func (b *Builder) SetMagic(magic uint32) *Builder {
	b.magic = magic
	return b
}

// Add appends a partition
func (b *Builder) Add(img Image) *Builder {
	b.images = append(b.images, img)
	return b
}

// AddPartition appends a partition whose burn size equals its length
func (b *Builder) AddPartition(name string, typ PartitionType, burnAddr uint32, data []byte) *Builder {
	return b.Add(Image{Name: name, Type: typ, BurnAddress: burnAddr, Data: data})
}

// Build encodes the container and fills in the checksum
func (b *Builder) Build() ([]byte, error) {
	switch b.version {
	case V1:
		if b.magic != MagicV1 {
			return nil, fmt.Errorf("magic 0x%08X is not a V1 magic", b.magic)
		}
	case V2:
		if b.magic < MagicV2Min || b.magic > MagicV2Max {
			return nil, fmt.Errorf("magic 0x%08X is not a V2 magic", b.magic)
		}
		if len(b.name) >= NameSizeV2 {
			return nil, fmt.Errorf("package name too long: %d bytes (max %d)", len(b.name), NameSizeV2-1)
		}
	default:
		return nil, fmt.Errorf("unsupported version %v", b.version)
	}

	if len(b.images) > MaxPartitions {
		return nil, fmt.Errorf("too many partitions: %d (max %d)", len(b.images), MaxPartitions)
	}

	headerSize := b.version.HeaderSize()
	entrySize := b.version.EntrySize()
	nameSize := b.version.NameSize()
	tableEnd := headerSize + len(b.images)*entrySize

	total := tableEnd
	for _, img := range b.images {
		if len(img.Name) >= nameSize {
			return nil, fmt.Errorf("partition name %q too long (max %d bytes)", img.Name, nameSize-1)
		}
		total += len(img.Data)
	}
	if uint64(total) > 0xFFFFFFFF {
		return nil, fmt.Errorf("container too large: %d bytes", total)
	}

	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out[0:4], b.magic)
	binary.LittleEndian.PutUint16(out[6:8], uint16(len(b.images)))
	binary.LittleEndian.PutUint32(out[8:12], uint32(total))
	if b.version == V2 {
		copy(out[prefixSize:headerSize], b.name)
	}

	offset := tableEnd
	for i, img := range b.images {
		entry := out[headerSize+i*entrySize : headerSize+(i+1)*entrySize]
		copy(entry[:nameSize], img.Name)

		burnSize := img.BurnSize
		if burnSize == 0 {
			burnSize = uint32(len(img.Data))
		}

		fields := entry[nameSize:]
		binary.LittleEndian.PutUint32(fields[0:4], uint32(offset))
		binary.LittleEndian.PutUint32(fields[4:8], uint32(len(img.Data)))
		binary.LittleEndian.PutUint32(fields[8:12], img.BurnAddress)
		binary.LittleEndian.PutUint32(fields[12:16], burnSize)
		binary.LittleEndian.PutUint32(fields[16:20], uint32(img.Type))

		copy(out[offset:], img.Data)
		offset += len(img.Data)
	}

	binary.LittleEndian.PutUint16(out[4:6], crc16.Checksum(out[crcOffset:tableEnd]))
	return out, nil
}
