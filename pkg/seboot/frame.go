// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package seboot

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Thermoquad/hisiflash/pkg/crc16"
)

// Frame is a decoded SEBOOT frame
type Frame struct {
	Command Command
	Payload []byte
}

// IsAck reports whether the frame is an ACK
func (f *Frame) IsAck() bool {
	return f.Command == CmdAck
}

// AckResult returns the result byte of an ACK frame
func (f *Frame) AckResult() (byte, bool) {
	if !f.IsAck() || len(f.Payload) == 0 {
		return 0, false
	}
	return f.Payload[0], true
}

// Err converts a failed ACK into a ProtocolError. Non-ACK frames and
// successful ACKs return nil.
func (f *Frame) Err() error {
	if !f.IsAck() {
		return nil
	}
	result, ok := f.AckResult()
	if !ok {
		return &ProtocolError{Command: f.Command, Message: "ACK without result byte"}
	}
	if result != AckSuccess {
		code := byte(0)
		if len(f.Payload) > 1 {
			code = f.Payload[1]
		}
		return &ProtocolError{
			Command: f.Command,
			Message: fmt.Sprintf("device rejected command: result 0x%02X code 0x%02X", result, code),
		}
	}
	return nil
}

// ProtocolError reports a malformed or unexpected frame
type ProtocolError struct {
	Command Command
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("seboot %s: %s", e.Command, e.Message)
}

// Encode builds a complete frame. Payloads longer than MaxPayload panic.
func Encode(cmd Command, payload []byte) []byte {
	if len(payload) > MaxPayload {
		panic(fmt.Sprintf("seboot: payload too large: %d bytes", len(payload)))
	}

	total := MinFrameSize + len(payload)
	frame := make([]byte, 0, total)
	frame = append(frame, magicBytes...)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(total))
	frame = append(frame, byte(cmd), cmd.Complement())
	frame = append(frame, payload...)

	crc := crc16.Checksum(frame)
	frame = binary.LittleEndian.AppendUint16(frame, crc)
	return frame
}

// Decode returns the first valid frame in data, or nil if none has fully
// arrived yet
func Decode(data []byte) *Frame {
	f, _ := DecodeNext(data)
	return f
}

// DecodeNext scans data for the first valid frame. It returns the frame
// and the bytes following it. When no complete frame is available it
// returns nil and the suffix worth keeping for the next read: a partial
// frame, or a tail that may hold the start of the magic.
func DecodeNext(data []byte) (*Frame, []byte) {
	for {
		i := bytes.Index(data, magicBytes)
		if i < 0 {
			return nil, magicTail(data)
		}
		data = data[i:]

		if len(data) < 6 {
			return nil, data
		}
		n := int(binary.LittleEndian.Uint16(data[4:6]))
		if n < MinFrameSize || n > MaxFrameSize {
			data = data[1:]
			continue
		}
		if len(data) < n {
			return nil, data
		}

		if f := parseFrame(data[:n]); f != nil {
			return f, data[n:]
		}
		data = data[1:]
	}
}

// parseFrame validates a candidate frame of exactly the declared length
func parseFrame(raw []byte) *Frame {
	cmd := Command(raw[6])
	if !cmd.validComplement(raw[7]) {
		return nil
	}

	n := len(raw)
	want := binary.LittleEndian.Uint16(raw[n-2:])
	if crc16.Checksum(raw[:n-2]) != want {
		return nil
	}

	payload := make([]byte, n-MinFrameSize)
	copy(payload, raw[headerSize:n-2])
	return &Frame{Command: cmd, Payload: payload}
}

// magicTail keeps the bytes that could be the start of a split magic
func magicTail(data []byte) []byte {
	keep := len(magicBytes) - 1
	if len(data) < keep {
		keep = len(data)
	}
	return data[len(data)-keep:]
}
