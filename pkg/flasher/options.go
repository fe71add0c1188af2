// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/hisiflash/pkg/chip"
	"github.com/Thermoquad/hisiflash/pkg/ymodem"
)

// Option configures a SebootFlasher
type Option func(*SebootFlasher)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(f *SebootFlasher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithChip selects the chip family. Its target baud rate, erase settle and
// partition delay apply unless overridden by other options.
func WithChip(c chip.Family) Option {
	return func(f *SebootFlasher) {
		f.family = c
	}
}

// WithTargetBaud requests a baud rate switch once the loader runs. Zero
// keeps the chip default; the current rate skips the switch.
func WithTargetBaud(baud int) Option {
	return func(f *SebootFlasher) {
		f.targetBaud = baud
	}
}

// WithHandshakeTiming overrides the handshake tuning
func WithHandshakeTiming(t HandshakeTiming) Option {
	return func(f *SebootFlasher) {
		f.timing = t
	}
}

// WithTransferConfig overrides the YMODEM sender configuration
func WithTransferConfig(c ymodem.Config) Option {
	return func(f *SebootFlasher) {
		f.transfer = c
	}
}

// WithReconnector enables reopening the port after a disconnect
func WithReconnector(r PortReconnector) Option {
	return func(f *SebootFlasher) {
		f.reconnector = r
	}
}

// WithRetries sets how many times a failed stage is retried
func WithRetries(n int) Option {
	return func(f *SebootFlasher) {
		if n >= 0 {
			f.retries = n
		}
	}
}

// WithBackoff overrides the delays applied between retries
func WithBackoff(b Backoff) Option {
	return func(f *SebootFlasher) {
		f.backoff = b
	}
}

// WithMagicTimeout bounds the wait for the loader's ready marker
func WithMagicTimeout(d time.Duration) Option {
	return func(f *SebootFlasher) {
		f.magicTimeout = d
	}
}

// WithPartitionDelay overrides the idle time between partitions
func WithPartitionDelay(d time.Duration) Option {
	return func(f *SebootFlasher) {
		f.partitionDelay = &d
	}
}

// WithEraseSettle overrides the wait after a full-chip erase
func WithEraseSettle(d time.Duration) Option {
	return func(f *SebootFlasher) {
		f.eraseSettle = &d
	}
}

// WithBaudSettle overrides the pause around a baud rate change
func WithBaudSettle(d time.Duration) Option {
	return func(f *SebootFlasher) {
		f.baudSettle = d
	}
}
