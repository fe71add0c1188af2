// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package iox provides cancellation and cleanup helpers shared by the
// protocol packages.
package iox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrInterrupted is returned when the caller cancels an operation. It is
// never retried.
var ErrInterrupted = errors.New("interrupted")

// Checkpoint returns an ErrInterrupted-wrapping error once ctx is done
func Checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return interrupted(ctx)
	default:
		return nil
	}
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return Checkpoint(ctx)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return interrupted(ctx)
	case <-timer.C:
		return nil
	}
}

// IsInterrupted reports whether err stems from cancellation
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %v", ErrInterrupted, context.Cause(ctx))
}

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(port)
func DiscardClose(c io.Closer) { _ = c.Close() }
