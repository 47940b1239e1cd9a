// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reisertree implements the NodeCodec and TreeOps components
// of spec.md §4.2/§4.3: parsing and editing leaf/internal blocks, and
// the design-level search/balance operations that sit on top of
// them.
package reisertree

import (
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
)

// BlockNum is a block address on the device (re-exported so callers
// don't need to import rbitmap just to talk about block numbers).
type BlockNum = rbitmap.BlockNum

// BlockHeaderSize is the fixed size of the common block header that
// precedes both leaf and internal node bodies.
const BlockHeaderSize = 24

// Level 1 is always a leaf; levels ≥2 are internal, per spec.md §3.
const LeafLevel = 1

// BlockHeader is the 24-byte header shared by leaf and internal
// blocks (spec.md §3).
type BlockHeader struct {
	Level     uint16 // 1 = leaf, >=2 = internal
	NumItems  uint16
	FreeSpace uint16 // leaf only; meaningless for internal blocks
	Reserved  [18]byte
}

func (h BlockHeader) IsLeaf() bool {
	return h.Level == LeafLevel
}

// Kind is the conservative classification Classify assigns to a
// block (spec.md §4.2).
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLeaf
	KindInternal
	KindSuperblock
	KindJournalDesc
	KindItemArrayOnly
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "Leaf"
	case KindInternal:
		return "Internal"
	case KindSuperblock:
		return "Superblock"
	case KindJournalDesc:
		return "JournalDesc"
	case KindItemArrayOnly:
		return "ItemArrayOnly"
	default:
		return "Unknown"
	}
}
