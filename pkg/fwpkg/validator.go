// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fwpkg

import (
	"fmt"
	"sort"
)

// AnomalyType represents different kinds of partition table anomalies
type AnomalyType int

const (
	AnomalyMissingLoader AnomalyType = iota
	AnomalyMultipleLoaders
	AnomalyPayloadOutOfRange
	AnomalyPayloadInTable
	AnomalyBurnOverlap
	AnomalyBurnSizeTooSmall
	AnomalyEmptyPartition
	AnomalyDuplicateName
	AnomalyUnknownType
	AnomalyTotalLength
)

// ValidationError represents a single anomaly found in a container
type ValidationError struct {
	Type      AnomalyType
	Partition string
	Message   string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Fatal reports whether flashing the container cannot succeed
func (v *ValidationError) Fatal() bool {
	switch v.Type {
	case AnomalyMissingLoader, AnomalyPayloadOutOfRange:
		return true
	}
	return false
}

// Validate inspects the partition table for problems that Parse tolerates.
// Returns an empty slice for a clean container.
func Validate(f *Fwpkg) []ValidationError {
	errors := []ValidationError{}

	loaders := 0
	for _, e := range f.Partitions() {
		if e.IsLoader() {
			loaders++
		}
	}
	switch {
	case loaders == 0:
		errors = append(errors, ValidationError{
			Type:    AnomalyMissingLoader,
			Message: "no loader partition",
		})
	case loaders > 1:
		errors = append(errors, ValidationError{
			Type:    AnomalyMultipleLoaders,
			Message: fmt.Sprintf("%d loader partitions (only the first is used)", loaders),
		})
	}

	if int(f.header.TotalLen) != len(f.data) {
		errors = append(errors, ValidationError{
			Type:    AnomalyTotalLength,
			Message: fmt.Sprintf("header total length %d differs from file size %d", f.header.TotalLen, len(f.data)),
		})
	}

	seen := map[string]bool{}
	for _, e := range f.Partitions() {
		errors = append(errors, validateEntry(f, e)...)
		if seen[e.Name] {
			errors = append(errors, ValidationError{
				Type:      AnomalyDuplicateName,
				Partition: e.Name,
				Message:   fmt.Sprintf("duplicate partition name %q", e.Name),
			})
		}
		seen[e.Name] = true
	}

	errors = append(errors, validateBurnRanges(f)...)
	return errors
}

// validateEntry checks a single entry in isolation
func validateEntry(f *Fwpkg, e *PartitionEntry) []ValidationError {
	errors := []ValidationError{}

	if e.End() > uint64(len(f.data)) {
		errors = append(errors, ValidationError{
			Type:      AnomalyPayloadOutOfRange,
			Partition: e.Name,
			Message: fmt.Sprintf("partition %q payload 0x%X+0x%X exceeds file size 0x%X",
				e.Name, e.Offset, e.Length, len(f.data)),
		})
	} else if e.Length > 0 && int(e.Offset) < f.tableEnd() {
		errors = append(errors, ValidationError{
			Type:      AnomalyPayloadInTable,
			Partition: e.Name,
			Message:   fmt.Sprintf("partition %q payload starts inside the partition table (offset 0x%X)", e.Name, e.Offset),
		})
	}

	if e.Length == 0 {
		errors = append(errors, ValidationError{
			Type:      AnomalyEmptyPartition,
			Partition: e.Name,
			Message:   fmt.Sprintf("partition %q is empty", e.Name),
		})
	}

	if !e.IsLoader() && e.BurnSize < e.Length {
		errors = append(errors, ValidationError{
			Type:      AnomalyBurnSizeTooSmall,
			Partition: e.Name,
			Message:   fmt.Sprintf("partition %q burn size 0x%X smaller than length 0x%X", e.Name, e.BurnSize, e.Length),
		})
	}

	if !e.Type.Known() {
		errors = append(errors, ValidationError{
			Type:      AnomalyUnknownType,
			Partition: e.Name,
			Message:   fmt.Sprintf("partition %q has unknown type code %d", e.Name, uint32(e.Type)),
		})
	}

	return errors
}

// validateBurnRanges reports flash ranges written by more than one partition
func validateBurnRanges(f *Fwpkg) []ValidationError {
	parts := f.NormalPartitions()
	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].BurnAddress < parts[j].BurnAddress
	})

	errors := []ValidationError{}

	// owner is the partition reaching furthest so far; a large partition
	// can cover several that follow it
	var owner *PartitionEntry
	var ownerEnd uint64
	for _, cur := range parts {
		end := uint64(cur.BurnAddress) + uint64(burnExtent(cur))
		if owner != nil && uint64(cur.BurnAddress) < ownerEnd {
			errors = append(errors, ValidationError{
				Type:      AnomalyBurnOverlap,
				Partition: cur.Name,
				Message: fmt.Sprintf("partition %q at 0x%08X overlaps %q (0x%08X-0x%08X)",
					cur.Name, cur.BurnAddress, owner.Name, owner.BurnAddress, ownerEnd),
			})
		}
		if burnExtent(cur) > 0 && end > ownerEnd {
			owner, ownerEnd = cur, end
		}
	}
	return errors
}

func burnExtent(e *PartitionEntry) uint32 {
	if e.BurnSize > e.Length {
		return e.BurnSize
	}
	return e.Length
}
