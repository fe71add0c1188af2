// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package port

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Transport errors
var (
	// ErrDisconnected means the underlying device or connection went away
	ErrDisconnected = errors.New("port disconnected")
	// ErrClosed is returned by operations on a port closed by this process
	ErrClosed = errors.New("port closed")
)

// disconnectErrnos are the OS errors raised when a USB serial adapter
// disappears mid-operation
var disconnectErrnos = []syscall.Errno{
	syscall.EIO,
	syscall.ENXIO,
	syscall.ENODEV,
	syscall.EPIPE,
	syscall.EBADF,
	syscall.ECONNRESET,
}

// disconnectMessages catches drivers that only report text
var disconnectMessages = []string{
	"broken pipe",
	"not connected",
	"no such device",
	"device not configured",
	"input/output error",
	"device has been disconnected",
}

// IsDisconnect reports whether err means the port itself is gone and must
// be reopened. Timeouts are never disconnects.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDisconnected) || errors.Is(err, ErrClosed) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	for _, errno := range disconnectErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	if code, ok := serialCode(err); ok {
		switch code {
		case serial.PortClosed, serial.PortNotFound:
			return true
		}
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range disconnectMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsBusy reports whether another process holds the port
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EBUSY) {
		return true
	}
	if code, ok := serialCode(err); ok && code == serial.PortBusy {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "resource busy")
}

// IsPermission reports whether the port could not be opened for lack of
// access rights
func IsPermission(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	code, ok := serialCode(err)
	return ok && code == serial.PermissionDenied
}

func serialCode(err error) (serial.PortErrorCode, bool) {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		return pe.Code(), true
	}
	var pv serial.PortError
	if errors.As(err, &pv) {
		return pv.Code(), true
	}
	return 0, false
}
