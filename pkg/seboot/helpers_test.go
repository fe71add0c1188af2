// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package seboot

import "github.com/Thermoquad/hisiflash/pkg/crc16"

func crcOf(b []byte) uint16 {
	return crc16.Checksum(b)
}
