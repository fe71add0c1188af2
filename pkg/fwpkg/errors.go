// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwpkg

import (
	"errors"
	"fmt"
)

// ErrInvalidFormat is matched by every error describing a malformed container
var ErrInvalidFormat = errors.New("invalid fwpkg format")

// FormatError describes why a container was rejected
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidFormat, e.Reason)
}

// Is reports ErrInvalidFormat as the error class
func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidFormat
}

func invalidFormat(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// ChecksumMismatchError is returned when the stored header CRC does not
// match the computed one
type ChecksumMismatchError struct {
	Expected uint16
	Actual   uint16
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("fwpkg checksum mismatch: expected 0x%04X, got 0x%04X", e.Expected, e.Actual)
}
