// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package devsim

import (
	"bytes"
	"strconv"

	"github.com/Thermoquad/hisiflash/pkg/crc16"
)

// YMODEM control bytes as seen by the receiver
const (
	soh = 0x01
	stx = 0x02
	eot = 0x04
	ack = 0x06
	nak = 0x15
	can = 0x18
	crc = 'C'
)

// File is one file received over YMODEM
type File struct {
	Name string
	Size int
	Data []byte
}

type receiverState int

const (
	awaitHeader receiverState = iota
	awaitData
	awaitClose
	closed
)

// Receiver is a YMODEM-1K receiver. Faults are injected through the
// exported fields before the transfer starts.
type Receiver struct {
	// NakBlocks maps a data block number to the NAKs sent before accepting it
	NakBlocks map[int]int
	// CancelAtBlock sends CAN instead of accepting that data block
	CancelAtBlock int
	// NakFirstEOT answers the first EOT with NAK
	NakFirstEOT bool
	// IgnoreClose never answers the closing block 0
	IgnoreClose bool
	// AnswerEOTWithReady replies 'C' to EOT instead of ACK
	AnswerEOTWithReady bool

	Files []File

	state    receiverState
	buf      []byte
	current  File
	expected int
	eots     int
}

// NewReceiver creates a receiver waiting for block 0
func NewReceiver() *Receiver {
	return &Receiver{NakBlocks: map[int]int{}}
}

// Closed reports whether the session end block was accepted
func (r *Receiver) Closed() bool {
	return r.state == closed
}

// Idle returns what the receiver sends while nothing arrives
func (r *Receiver) Idle() []byte {
	switch r.state {
	case awaitHeader, awaitClose:
		return []byte{crc}
	case awaitData:
		if r.expected == 1 {
			return []byte{crc}
		}
	}
	return nil
}

// Feed consumes bytes from the sender and returns the replies
func (r *Receiver) Feed(p []byte) []byte {
	r.buf = append(r.buf, p...)

	var out []byte
	for len(r.buf) > 0 && r.state != closed {
		switch r.buf[0] {
		case eot:
			r.buf = r.buf[1:]
			out = append(out, r.handleEOT()...)
		case soh, stx:
			size := 128
			if r.buf[0] == stx {
				size = 1024
			}
			if len(r.buf) < size+5 {
				return out
			}
			block := r.buf[:size+5]
			r.buf = r.buf[size+5:]
			out = append(out, r.handleBlock(block, size)...)
		default:
			r.buf = r.buf[1:]
		}
	}
	return out
}

func (r *Receiver) handleEOT() []byte {
	if r.state != awaitData {
		return []byte{nak}
	}
	r.eots++
	if r.NakFirstEOT && r.eots == 1 {
		return []byte{nak}
	}

	if len(r.current.Data) > r.current.Size {
		r.current.Data = r.current.Data[:r.current.Size]
	}
	r.Files = append(r.Files, r.current)
	r.current = File{}
	r.state = awaitClose
	if r.AnswerEOTWithReady {
		return []byte{crc}
	}
	return []byte{ack}
}

func (r *Receiver) handleBlock(block []byte, size int) []byte {
	seq := block[1]
	if block[2] != ^seq {
		return []byte{nak}
	}
	payload := block[3 : 3+size]
	want := uint16(block[3+size])<<8 | uint16(block[4+size])
	if crc16.Checksum(payload) != want {
		return []byte{nak}
	}

	switch r.state {
	case awaitHeader, awaitClose:
		if seq != 0 {
			return []byte{nak}
		}
		if bytes.Count(payload, []byte{0}) == len(payload) {
			if r.IgnoreClose {
				return nil
			}
			r.state = closed
			return []byte{ack}
		}
		if r.state == awaitClose {
			return []byte{nak}
		}
		r.current = parseFileInfo(payload)
		r.expected = 1
		r.state = awaitData
		return []byte{ack, crc}

	case awaitData:
		if seq == byte(r.expected-1) {
			// Duplicate of the last accepted block
			return []byte{ack}
		}
		if seq != byte(r.expected) {
			return []byte{nak}
		}
		if r.CancelAtBlock == r.expected {
			return []byte{can, can}
		}
		if r.NakBlocks[r.expected] > 0 {
			r.NakBlocks[r.expected]--
			return []byte{nak}
		}
		r.current.Data = append(r.current.Data, payload...)
		r.expected++
		return []byte{ack}
	}
	return nil
}

func parseFileInfo(payload []byte) File {
	parts := bytes.SplitN(payload, []byte{0}, 3)
	f := File{Name: string(parts[0])}
	if len(parts) > 1 {
		fields := bytes.Fields(parts[1])
		if len(fields) > 0 {
			f.Size, _ = strconv.Atoi(string(fields[0]))
		}
	}
	return f
}
