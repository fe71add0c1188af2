// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package crc16

import "testing"

func TestChecksum_Empty(t *testing.T) {
	if crc := Checksum(nil); crc != Initial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x31C3, // CRC-16/XMODEM check value
		},
		{
			name:     "single zero byte",
			data:     []byte{0x00},
			expected: 0x0000,
		},
		{
			name:     "single 0x01",
			data:     []byte{0x01},
			expected: 0x1021,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := Checksum(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestUpdate_Incremental(t *testing.T) {
	data := []byte("123456789")
	for split := 0; split <= len(data); split++ {
		crc := Update(Update(Initial, data[:split]), data[split:])
		if crc != Checksum(data) {
			t.Errorf("split at %d: got 0x%04X, want 0x%04X", split, crc, Checksum(data))
		}
	}
}
