// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ymodem

import (
	"fmt"
	"time"
)

// Statistics tracks block counters and throughput for one or more transfers
type Statistics struct {
	StartTime time.Time

	// Counters
	Files    uint64
	Blocks   uint64
	Bytes    uint64
	Retries  uint64
	NAKs     uint64
	Timeouts uint64

	// Rates (calculated)
	ByteRate float64 // bytes/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// Add accumulates the counters of other into s
func (s *Statistics) Add(other *Statistics) {
	if other == nil {
		return
	}
	s.Files += other.Files
	s.Blocks += other.Blocks
	s.Bytes += other.Bytes
	s.Retries += other.Retries
	s.NAKs += other.NAKs
	s.Timeouts += other.Timeouts
}

// CalculateRates calculates the byte rate since StartTime
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ByteRate = float64(s.Bytes) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var retryPercent float64
	if s.Blocks > 0 {
		retryPercent = float64(s.Retries) * 100.0 / float64(s.Blocks)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Transfer statistics (%.1f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Files:           %8d\n", s.Files)
	result += fmt.Sprintf("Blocks:          %8d\n", s.Blocks)
	result += fmt.Sprintf("Bytes:           %8d\n", s.Bytes)

	if s.Retries > 0 {
		result += fmt.Sprintf("Retries:         %8d (%.1f%%)\n", s.Retries, retryPercent)
		if s.NAKs > 0 {
			result += fmt.Sprintf("  NAKs:             %5d\n", s.NAKs)
		}
		if s.Timeouts > 0 {
			result += fmt.Sprintf("  Timeouts:         %5d\n", s.Timeouts)
		}
	}

	result += fmt.Sprintf("Throughput:      %8.1f KiB/sec\n", s.ByteRate/1024)
	result += "==========================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = Statistics{StartTime: time.Now()}
}
