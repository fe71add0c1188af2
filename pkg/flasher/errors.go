// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/hisiflash/pkg/fwpkg"
	"github.com/Thermoquad/hisiflash/pkg/iox"
	"github.com/Thermoquad/hisiflash/pkg/port"
	"github.com/Thermoquad/hisiflash/pkg/seboot"
	"github.com/Thermoquad/hisiflash/pkg/ymodem"
)

// Sentinel errors
var (
	// ErrTimeout means the link is alive but the device did not answer
	ErrTimeout = errors.New("timeout")
	// ErrDeviceNotFound means the port could not be found again after a
	// disconnect
	ErrDeviceNotFound = errors.New("device not found")
	// ErrUnsupported marks an operation the selected chip cannot perform
	ErrUnsupported = errors.New("unsupported")
	// ErrNotConnected is returned by operations that need a prior Connect
	ErrNotConnected = errors.New("not connected")
	// ErrLoaderNotRunning is returned by operations that need the loader
	ErrLoaderNotRunning = errors.New("loader not running")
)

// Stage names the phase of a flash run an error happened in
type Stage string

const (
	StageHandshake Stage = "handshake"
	StageLoader    Stage = "loader transfer"
	StageBaud      Stage = "baud switch"
	StagePartition Stage = "partition download"
	StageErase     Stage = "erase"
	StageReset     Stage = "reset"
)

// StageError wraps a failure with the stage and partition it happened in
type StageError struct {
	Stage     Stage
	Index     int // partition position, counted from 1
	Partition string
	Err       error
}

func (e *StageError) Error() string {
	switch {
	case e.Stage == StagePartition:
		return fmt.Sprintf("partition %d (%s) download: %v", e.Index, e.Partition, e.Err)
	case e.Partition != "":
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Partition, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether a retry can help
func IsRecoverable(err error) bool {
	switch {
	case err == nil:
		return false
	case iox.IsInterrupted(err),
		errors.Is(err, ymodem.ErrCancelledByPeer),
		errors.Is(err, fwpkg.ErrInvalidFormat),
		errors.Is(err, ErrUnsupported),
		errors.Is(err, ErrDeviceNotFound):
		return false
	}
	return true
}

// Backoff holds the delays applied before retrying, by error class
type Backoff struct {
	Permission time.Duration // permission denied or port busy
	Disconnect time.Duration // device vanished
	Protocol   time.Duration // malformed or rejected frame
	Timeout    time.Duration
	Other      time.Duration
}

// DefaultBackoff returns the standard retry delays
func DefaultBackoff() Backoff {
	return Backoff{
		Permission: time.Second,
		Disconnect: 500 * time.Millisecond,
		Protocol:   50 * time.Millisecond,
		Timeout:    0,
		Other:      100 * time.Millisecond,
	}
}

// Delay returns the wait before retrying after err
func (b Backoff) Delay(err error) time.Duration {
	var perr *seboot.ProtocolError
	switch {
	case port.IsPermission(err), port.IsBusy(err):
		return b.Permission
	case port.IsDisconnect(err):
		return b.Disconnect
	case errors.Is(err, ErrTimeout), errors.Is(err, ymodem.ErrTimeout):
		return b.Timeout
	case errors.As(err, &perr):
		return b.Protocol
	default:
		return b.Other
	}
}
