// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import (
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

// FileWrite is the tail/extent conversion policy underlying the
// rebuilder's Extent/Direct handling (spec.md §4.7): decide whether
// size bytes at the given logical offset should live in an Extent or
// a Direct item.
//
// StoreTail mirrors spec.md's tail policy: STORE_TAIL iff the whole
// file is smaller than reiserprim.StoreTailThreshold.
func StoreTail(fileSize uint64) bool {
	return fileSize < reiserprim.StoreTailThreshold
}

// Placement describes where one write should land.
type Placement struct {
	AsDirect bool
	Offset   uint64
	Data     []byte  // the bytes this placement stores, for either kind
	Pointer  uint32  // extent block pointer; PlanWrite leaves it zero
}

// PlanWrite splits incoming bytes at logical offset into the
// sequence of item writes needed to store them, applying the tail
// policy against the file's final size. Holes in the extent range
// (zero pointers) are preserved by the caller; PlanWrite only
// describes non-hole data.
//
// blockSize governs how many bytes of an extent-resident write map
// to one block pointer; callers of PlanWrite for extent placements
// are expected to have already allocated the backing block and pass
// its number in as data, pre-split to block granularity.
func PlanWrite(fileSize, offset uint64, data []byte, blockSize BlockSize) []Placement {
	if StoreTail(fileSize) {
		return []Placement{{AsDirect: true, Offset: offset, Data: data}}
	}

	var out []Placement
	tailStart := fileSize - (fileSize % uint64(blockSize))
	if tailStart < fileSize && offset+uint64(len(data)) > tailStart && tailStart >= offset {
		boundary := tailStart - offset
		if boundary > uint64(len(data)) {
			boundary = uint64(len(data))
		}
		if boundary > 0 {
			out = append(out, Placement{AsDirect: false, Offset: offset, Data: data[:boundary]})
		}
		if boundary < uint64(len(data)) {
			out = append(out, Placement{AsDirect: true, Offset: offset + boundary, Data: data[boundary:]})
		}
		return out
	}
	return []Placement{{AsDirect: false, Offset: offset, Data: data}}
}

// ResolveCollision implements spec.md §4.7's extent-collision rule:
// "on collision with an existing pointer to the same block, the
// first wins; later duplicates are cleared." existing is the
// previously-recorded pointer for a given extent slot (0 if none
// yet); incoming is the candidate from the item currently being
// inserted. It returns the pointer that should end up in the slot,
// and whether incoming was a cleared duplicate.
func ResolveCollision(existing, incoming uint32) (resolved uint32, clearedDuplicate bool) {
	if existing != 0 && existing == incoming {
		return existing, true
	}
	if existing != 0 {
		return existing, false
	}
	return incoming, false
}
