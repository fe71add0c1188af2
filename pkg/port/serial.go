// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package port

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialPort wraps a native serial port
type SerialPort struct {
	port serial.Port
	name string
	baud int
}

// OpenSerial opens a serial port with 8N1 framing
func OpenSerial(name string, cfg Config) (*SerialPort, error) {
	cfg = cfg.withDefaults()

	p, err := serial.Open(name, lineMode(cfg.BaudRate))
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	return &SerialPort{port: p, name: name, baud: cfg.BaudRate}, nil
}

func lineMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func (s *SerialPort) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialPort) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialPort) Close() error {
	return s.port.Close()
}

// Name returns the device path
func (s *SerialPort) Name() string {
	return s.name
}

// SetReadTimeout sets how long Read waits for the first byte
func (s *SerialPort) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

// BaudRate returns the current line rate
func (s *SerialPort) BaudRate() int {
	return s.baud
}

// SetBaudRate changes the line rate, keeping 8N1 framing
func (s *SerialPort) SetBaudRate(baud int) error {
	if err := s.port.SetMode(lineMode(baud)); err != nil {
		return fmt.Errorf("failed to set baud rate %d: %w", baud, err)
	}
	s.baud = baud
	return nil
}

func (s *SerialPort) SetDTR(on bool) error {
	return s.port.SetDTR(on)
}

func (s *SerialPort) SetRTS(on bool) error {
	return s.port.SetRTS(on)
}

func (s *SerialPort) CTS() (bool, error) {
	bits, err := s.port.GetModemStatusBits()
	if err != nil {
		return false, err
	}
	return bits.CTS, nil
}

func (s *SerialPort) DSR() (bool, error) {
	bits, err := s.port.GetModemStatusBits()
	if err != nil {
		return false, err
	}
	return bits.DSR, nil
}

// Flush waits for the output buffer to drain
func (s *SerialPort) Flush() error {
	return s.port.Drain()
}

// ClearBuffers discards pending input and output
func (s *SerialPort) ClearBuffers() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return err
	}
	return s.port.ResetOutputBuffer()
}
