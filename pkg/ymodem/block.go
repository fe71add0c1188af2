// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ymodem

import (
	"strconv"

	"github.com/Thermoquad/hisiflash/pkg/crc16"
)

// BuildBlock frames data as a block of the given size (BlockSize128 or
// BlockSize1K). Short data is zero-padded; data longer than size is
// truncated.
func BuildBlock(seq byte, data []byte, size int) []byte {
	header := byte(STX)
	if size == BlockSize128 {
		header = SOH
	}

	block := make([]byte, size+blockOverhead)
	block[0] = header
	block[1] = seq
	block[2] = ^seq

	payload := block[3 : 3+size]
	copy(payload, data)

	crc := crc16.Checksum(payload)
	block[3+size] = byte(crc >> 8)
	block[4+size] = byte(crc)
	return block
}

// FileInfo builds the payload of block 0: name, NUL, decimal size, NUL.
// Names that do not fit are truncated.
func FileInfo(name string, size int) []byte {
	sizeStr := strconv.Itoa(size)
	maxName := BlockSize128 - len(sizeStr) - 2
	if len(name) > maxName {
		name = name[:maxName]
	}

	info := make([]byte, 0, BlockSize128)
	info = append(info, name...)
	info = append(info, 0)
	info = append(info, sizeStr...)
	return append(info, 0)
}
