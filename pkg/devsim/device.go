// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package devsim

import (
	"encoding/binary"

	"github.com/Thermoquad/hisiflash/pkg/seboot"
)

type deviceMode int

const (
	modeROM deviceMode = iota
	modeTransfer
	modeLoader
	modeReset
)

// Download records one Download command
type Download struct {
	Address uint32
	Length  uint32
	Erase   uint32
}

// Device simulates the boot ROM and the first-stage loader: it answers the
// handshake, receives the loader over YMODEM, then executes SEBOOT
// commands.
type Device struct {
	// ProbesBeforeAck ignores that many handshake frames first
	ProbesBeforeAck int
	// Chatter is emitted once per idle read while waiting for a handshake
	Chatter []byte
	// RejectDownloads answers every Download with a failure ACK
	RejectDownloads bool
	// NewReceiver customises the receiver used for each transfer
	NewReceiver func(index int) *Receiver

	Probes         int
	HandshakeBauds []uint32
	Files          []File
	Downloads      []Download
	BaudChanges    []uint32
	Commands       []seboot.Command
	Resets         int

	mode     deviceMode
	in       []byte
	receiver *Receiver
}

// NewDevice creates a device sitting in the boot ROM
func NewDevice() *Device {
	return &Device{}
}

// Receive implements Peer
func (d *Device) Receive(p []byte) []byte {
	if d.mode == modeTransfer {
		out := d.receiver.Feed(p)
		if d.receiver.Closed() {
			d.Files = append(d.Files, d.receiver.Files...)
			d.mode = modeLoader
			out = append(out, seboot.Ack(seboot.AckSuccess, 0)...)
		}
		return out
	}

	d.in = append(d.in, p...)
	var out []byte
	for {
		frame, rest := seboot.DecodeNext(d.in)
		d.in = rest
		if frame == nil {
			return out
		}
		out = append(out, d.handle(frame)...)
		if d.mode == modeTransfer {
			// Anything after the command belongs to the transfer
			if len(d.in) > 0 {
				out = append(out, d.receiver.Feed(d.in)...)
				d.in = nil
			}
			return out
		}
	}
}

func (d *Device) handle(f *seboot.Frame) []byte {
	d.Commands = append(d.Commands, f.Command)

	switch d.mode {
	case modeROM:
		if f.Command != seboot.CmdHandshake {
			return nil
		}
		d.Probes++
		if len(f.Payload) >= 4 {
			d.HandshakeBauds = append(d.HandshakeBauds, binary.LittleEndian.Uint32(f.Payload[0:4]))
		}
		if d.Probes <= d.ProbesBeforeAck {
			return nil
		}
		d.startTransfer()
		return seboot.Ack(seboot.AckSuccess, 0)

	case modeLoader:
		switch f.Command {
		case seboot.CmdSetBaudRate:
			d.BaudChanges = append(d.BaudChanges, binary.LittleEndian.Uint32(f.Payload[0:4]))
			return seboot.Ack(seboot.AckSuccess, 0)
		case seboot.CmdDownload:
			dl := Download{
				Address: binary.LittleEndian.Uint32(f.Payload[0:4]),
				Length:  binary.LittleEndian.Uint32(f.Payload[4:8]),
				Erase:   binary.LittleEndian.Uint32(f.Payload[8:12]),
			}
			d.Downloads = append(d.Downloads, dl)
			if d.RejectDownloads {
				return seboot.Ack(seboot.AckFailure, 0x01)
			}
			if dl.Erase == seboot.EraseAllSize {
				return seboot.Ack(seboot.AckSuccess, 0)
			}
			d.startTransfer()
			return seboot.Ack(seboot.AckSuccess, 0)
		case seboot.CmdReset:
			d.Resets++
			d.mode = modeReset
			return nil
		}
		return seboot.Ack(seboot.AckSuccess, 0)
	}
	return nil
}

func (d *Device) startTransfer() {
	if d.NewReceiver != nil {
		d.receiver = d.NewReceiver(len(d.Files))
	} else {
		d.receiver = NewReceiver()
	}
	d.mode = modeTransfer
}

// Idle implements Peer
func (d *Device) Idle() []byte {
	switch d.mode {
	case modeROM:
		return d.Chatter
	case modeTransfer:
		return d.receiver.Idle()
	}
	return nil
}

// InLoader reports whether the loader has been received and is running
func (d *Device) InLoader() bool {
	return d.mode == modeLoader
}
