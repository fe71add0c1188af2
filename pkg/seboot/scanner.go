// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package seboot

import "bytes"

// AckScanner searches a byte stream for the handshake ACK pattern. It keeps
// the last len(pattern)-1 bytes between calls so a pattern split across
// two reads is still found.
type AckScanner struct {
	pattern []byte
	tail    []byte
}

// NewAckScanner creates a scanner for AckPattern
func NewAckScanner() *AckScanner {
	return &AckScanner{pattern: AckPattern}
}

// Feed processes the next chunk and reports whether the pattern completed
// in it. A match clears the carried tail so it is reported only once.
func (s *AckScanner) Feed(chunk []byte) bool {
	buf := make([]byte, 0, len(s.tail)+len(chunk))
	buf = append(buf, s.tail...)
	buf = append(buf, chunk...)

	if bytes.Contains(buf, s.pattern) {
		s.tail = s.tail[:0]
		return true
	}

	keep := len(s.pattern) - 1
	if len(buf) < keep {
		keep = len(buf)
	}
	s.tail = append(s.tail[:0], buf[len(buf)-keep:]...)
	return false
}

// Reset drops the carried tail
func (s *AckScanner) Reset() {
	s.tail = s.tail[:0]
}
