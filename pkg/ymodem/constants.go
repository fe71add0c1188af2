// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ymodem implements the sending side of YMODEM-1K.
//
// A session is: wait for 'C', block 0 with "name\0size\0", wait for 'C',
// 1024-byte data blocks numbered from 1, EOT, and a final empty block 0.
// Every block carries a big-endian CRC-16/XMODEM of its payload.
package ymodem

import (
	"errors"
	"fmt"
	"time"
)

// Control bytes
const (
	SOH = 0x01
	STX = 0x02
	EOT = 0x04
	ACK = 0x06
	NAK = 0x15
	CAN = 0x18
	CRC = 'C'
)

// Block sizes
const (
	BlockSize128 = 128
	BlockSize1K  = 1024

	blockOverhead = 3 + 2 // header, seq, ~seq ... crc16
)

// Default timing
const (
	DefaultReadyTimeout  = 60 * time.Second
	DefaultAckTimeout    = 3 * time.Second
	DefaultFinishTimeout = 2 * time.Second
	DefaultMaxRetries    = 10
)

// Sentinel errors
var (
	ErrTimeout          = errors.New("ymodem: timeout")
	ErrCancelledByPeer  = errors.New("ymodem: transfer cancelled by peer")
	ErrRetriesExhausted = errors.New("ymodem: retries exhausted")
)

// BlockError names the block that could not be delivered
type BlockError struct {
	Block int // 0 for the file info block
	Err   error
}

func (e *BlockError) Error() string {
	if e.Block == 0 {
		return fmt.Sprintf("file info block: %v", e.Err)
	}
	return fmt.Sprintf("block %d: %v", e.Block, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}
