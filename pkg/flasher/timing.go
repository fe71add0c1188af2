// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"fmt"
	"time"
)

// HandshakeTiming groups the tuning knobs of the handshake loop. The
// values are empirical; only their ordering matters:
// StartupInterval < HeartbeatInterval < NormalInterval < AppModeInterval.
type HandshakeTiming struct {
	// StartupWindow is how long after an attempt starts probes are sent
	// at StartupInterval regardless of what is received
	StartupWindow   time.Duration
	StartupInterval time.Duration

	// HeartbeatInterval applies for HeartbeatWindow after a boot ROM
	// heartbeat or banner fragment is seen
	HeartbeatInterval time.Duration
	HeartbeatWindow   time.Duration

	NormalInterval time.Duration

	// AppModeThreshold is the number of non-ACK bytes after which the
	// application firmware is assumed to be running
	AppModeThreshold int
	AppModeInterval  time.Duration
	// AppModeQuiet is the input silence required before an app-mode probe
	AppModeQuiet time.Duration
	// AppModeGrace is the listen-only period after entering app mode
	AppModeGrace time.Duration

	// ReadTimeout bounds each read of the loop
	ReadTimeout time.Duration
	// Timeout is the budget of a single attempt
	Timeout time.Duration
	// Attempts is the number of attempts made by Connect
	Attempts int
}

// DefaultHandshakeTiming returns the standard handshake tuning
func DefaultHandshakeTiming() HandshakeTiming {
	return HandshakeTiming{
		StartupWindow:     3 * time.Second,
		StartupInterval:   10 * time.Millisecond,
		HeartbeatInterval: 30 * time.Millisecond,
		HeartbeatWindow:   2 * time.Second,
		NormalInterval:    100 * time.Millisecond,
		AppModeThreshold:  512,
		AppModeInterval:   500 * time.Millisecond,
		AppModeQuiet:      200 * time.Millisecond,
		AppModeGrace:      time.Second,
		ReadTimeout:       5 * time.Millisecond,
		Timeout:           30 * time.Second,
		Attempts:          3,
	}
}

// Validate checks that every knob is set and the intervals are ordered
func (t HandshakeTiming) Validate() error {
	if t.StartupInterval <= 0 || t.HeartbeatInterval <= 0 || t.NormalInterval <= 0 || t.AppModeInterval <= 0 {
		return fmt.Errorf("handshake intervals must be positive")
	}
	if !(t.StartupInterval < t.HeartbeatInterval &&
		t.HeartbeatInterval < t.NormalInterval &&
		t.NormalInterval < t.AppModeInterval) {
		return fmt.Errorf("handshake intervals out of order: startup %s, heartbeat %s, normal %s, app mode %s",
			t.StartupInterval, t.HeartbeatInterval, t.NormalInterval, t.AppModeInterval)
	}
	if t.Timeout <= 0 || t.ReadTimeout <= 0 {
		return fmt.Errorf("handshake timeouts must be positive")
	}
	if t.Attempts <= 0 {
		return fmt.Errorf("handshake attempts must be positive")
	}
	if t.AppModeThreshold <= 0 {
		return fmt.Errorf("app mode threshold must be positive")
	}
	return nil
}
