// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package seboot

import "encoding/binary"

// Command builder functions return encoded frames ready for transmission.

// Handshake builds the frame the boot ROM answers with AckPattern.
// baud is the line rate the host is currently using.
func Handshake(baud uint32) []byte {
	return Encode(CmdHandshake, linePayload(baud))
}

// SetBaudRate asks the loader to switch to a new line rate
func SetBaudRate(baud uint32) []byte {
	return Encode(CmdSetBaudRate, linePayload(baud))
}

// Download announces a YMODEM transfer of length bytes to be written at
// addr after erasing erase bytes
func Download(addr, length, erase uint32) []byte {
	payload := make([]byte, 0, 12+len(downloadTrailer))
	payload = binary.LittleEndian.AppendUint32(payload, addr)
	payload = binary.LittleEndian.AppendUint32(payload, length)
	payload = binary.LittleEndian.AppendUint32(payload, erase)
	payload = append(payload, downloadTrailer...)
	return Encode(CmdDownload, payload)
}

// DownloadImage builds a Download frame with the erase size aligned to
// the sector size
func DownloadImage(addr, length uint32) []byte {
	return Download(addr, length, AlignErase(length))
}

// EraseAll builds the Download variant that erases the whole flash
func EraseAll() []byte {
	return Download(0, 0, EraseAllSize)
}

// Reset asks the device to reboot
func Reset() []byte {
	return Encode(CmdReset, []byte{0x00, 0x00})
}

// Ack builds an ACK frame. Used by device simulators.
func Ack(result, code byte) []byte {
	return Encode(CmdAck, []byte{result, code})
}

// AlignErase rounds n up to the next erase sector boundary
func AlignErase(n uint32) uint32 {
	return (n + EraseSectorSize - 1) &^ (EraseSectorSize - 1)
}

func linePayload(baud uint32) []byte {
	payload := make([]byte, 0, 8)
	payload = binary.LittleEndian.AppendUint32(payload, baud)
	return append(payload, lineDataBits, lineStopBits, 0x00, 0x00)
}
