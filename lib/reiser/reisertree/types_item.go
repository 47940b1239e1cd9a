// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import (
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

// ItemHeaderSize is the fixed per-item header size (spec.md §3 "Item
// header").
const ItemHeaderSize = 24

// ItemHeader is the fixed-size per-item header preceding the item
// body in the item-header array.
type ItemHeader struct {
	Key      reiserprim.Key
	Length   uint16 // item length in bytes
	Location uint16 // offset from block start where the item body lives
	Format   reiserprim.KeyFormat

	// Flags carries the rebuilder's reachable/unreachable marker
	// (spec.md §3); it is transient bookkeeping, never written
	// back to a healthy on-disk block outside of a rebuild run.
	Flags ItemFlags

	// Union{free_space (extents only) | entry_count (directory
	// only)}, per spec.md §3.
	FreeSpaceOrEntryCount uint16
}

// ItemFlags are the rebuilder's per-item-header bookkeeping bits.
type ItemFlags uint8

const (
	FlagReachable ItemFlags = 1 << iota
	FlagUnreachable
)

func (h ItemHeader) IsUnreachable() bool { return h.Flags&FlagUnreachable != 0 }
func (h ItemHeader) IsReachable() bool   { return h.Flags&FlagReachable != 0 }

// ItemBody is implemented by each of the four item body kinds
// (spec.md §3 "Item body"): StatData, Extent, Direct, Directory.
type ItemBody interface {
	Type() reiserprim.ItemType
	// Marshal returns the on-disk encoding of the body; Len() ==
	// len(Marshal()) must always hold.
	Marshal() []byte
	Len() int
}

// Item pairs a parsed header with its decoded body.
type Item struct {
	Head ItemHeader
	Body ItemBody
}
