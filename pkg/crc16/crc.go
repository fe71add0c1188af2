// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package crc16 implements the CRC-16/XMODEM checksum shared by the FWPKG
// container, SEBOOT frames and YMODEM blocks.
package crc16

// CRC-16/XMODEM configuration
const (
	Polynomial = 0x1021
	Initial    = 0x0000
)

// Checksum computes CRC-16/XMODEM for the given data
func Checksum(data []byte) uint16 {
	return Update(Initial, data)
}

// Update continues a running CRC over data
func Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
