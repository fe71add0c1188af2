// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package seboot encodes and decodes SEBOOT boot ROM command frames.
//
// Wire format (all fields little-endian):
//
//	magic(4) length(2) command(1) ~command(1) payload(N) crc16(2)
//
// The length field counts every byte of the frame and the CRC-16/XMODEM
// covers everything before it, magic included.
package seboot

import "fmt"

// Frame magic
const (
	Magic = 0xDEADBEEF
)

var magicBytes = []byte{0xEF, 0xBE, 0xAD, 0xDE}

// Frame size limits
const (
	headerSize   = 8 // magic + length + command + complement
	MinFrameSize = headerSize + 2
	MaxFrameSize = 4096
	// MaxPayload keeps every encoded frame within MaxFrameSize so that
	// DecodeNext accepts whatever Encode produces
	MaxPayload = MaxFrameSize - MinFrameSize
)

// Command identifies a frame type
type Command uint8

// Commands used by the flashing flow
const (
	CmdHandshake   Command = 0xF0
	CmdAck         Command = 0xE1
	CmdSetBaudRate Command = 0x5A
	CmdDownload    Command = 0xD2
	CmdReset       Command = 0x87
)

// Protocol-layer variants not used by the flashing flow
const (
	CmdDownloadNv    Command = 0x4B
	CmdUploadData    Command = 0xB4
	CmdReadOtpEfuse  Command = 0xC3
	CmdWriteOtpEfuse Command = 0x3C
	CmdFlashLock     Command = 0x96
)

// Complement returns the byte transmitted after the command
func (c Command) Complement() byte {
	return ^byte(c)
}

// validComplement accepts both encodings seen on the wire
func (c Command) validComplement(b byte) bool {
	return b == ^byte(c) || b == byte(c)<<4|byte(c)>>4
}

func (c Command) String() string {
	switch c {
	case CmdHandshake:
		return "HANDSHAKE"
	case CmdAck:
		return "ACK"
	case CmdSetBaudRate:
		return "SET_BAUD_RATE"
	case CmdDownload:
		return "DOWNLOAD"
	case CmdReset:
		return "RESET"
	case CmdDownloadNv:
		return "DOWNLOAD_NV"
	case CmdUploadData:
		return "UPLOAD_DATA"
	case CmdReadOtpEfuse:
		return "READ_OTP_EFUSE"
	case CmdWriteOtpEfuse:
		return "WRITE_OTP_EFUSE"
	case CmdFlashLock:
		return "FLASH_LOCK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(c))
	}
}

// Ack payload result codes
const (
	AckSuccess = 0x5A
	AckFailure = 0xA5
)

// Serial line settings carried in handshake and baud rate payloads
const (
	lineDataBits = 0x08
	lineStopBits = 0x01
)

// Download payload trailer
var downloadTrailer = []byte{0x00, 0xFF}

// Erase parameters
const (
	EraseSectorSize = 0x1000
	EraseAllSize    = 0xFFFFFFFF
)

// AckPattern is the prefix of the ACK frame the boot ROM sends after a
// successful handshake
var AckPattern = []byte{0xEF, 0xBE, 0xAD, 0xDE, 0x0C, 0x00, 0xE1, 0x1E, AckSuccess, 0x00}
