// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package port provides the byte transport used by the flasher: native
// serial ports, a WebSocket serial bridge, port enumeration and the error
// classification that decides when a port must be reopened.
package port

import (
	"io"
	"strings"
	"time"
)

// Port is a duplex byte stream with serial line control.
//
// Read returns (0, nil) when the read timeout expires without data. Any
// non-nil error from Read or Write means the transport itself failed.
type Port interface {
	io.Reader
	io.Writer
	io.Closer

	// Name returns the path or URL the port was opened with
	Name() string

	SetReadTimeout(d time.Duration) error
	BaudRate() int
	SetBaudRate(baud int) error

	SetDTR(on bool) error
	SetRTS(on bool) error
	CTS() (bool, error)
	DSR() (bool, error)

	// Flush blocks until buffered output has been transmitted
	Flush() error
	// ClearBuffers discards unread input and unsent output
	ClearBuffers() error
}

// Config holds the settings used to open a port. The same value is reused
// when a port is reopened after a disconnect.
type Config struct {
	BaudRate    int
	ReadTimeout time.Duration

	// WebSocket bridge only
	Username           string
	Password           string
	InsecureSkipVerify bool
}

// Default line settings
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 10 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Opener opens ports by name
type Opener interface {
	Open(name string, cfg Config) (Port, error)
}

// DefaultOpener opens ws:// and wss:// names through the WebSocket bridge
// and everything else as a native serial port
type DefaultOpener struct{}

// Open implements Opener
func (DefaultOpener) Open(name string, cfg Config) (Port, error) {
	return Open(name, cfg)
}

// Open opens name using the transport implied by its form
func Open(name string, cfg Config) (Port, error) {
	if IsWebSocketURL(name) {
		return OpenWebSocket(name, cfg)
	}
	return OpenSerial(name, cfg)
}

// IsWebSocketURL reports whether name addresses the WebSocket bridge
func IsWebSocketURL(name string) bool {
	return strings.HasPrefix(name, "ws://") || strings.HasPrefix(name, "wss://")
}
