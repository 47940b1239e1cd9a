// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reiserprim implements the low-level algebra of the on-disk
// composite key used throughout the tree: comparison, v1/v2 format
// detection, and offset/type packing.
package reiserprim

import (
	"fmt"
	"math"
)

// ItemType is the type tag packed into a Key, in its "logical" (not
// on-disk v1/v2-specific) form.
type ItemType uint8

const (
	TypeStatData ItemType = iota
	TypeExtent
	TypeDirect
	TypeDirEntry
)

func (t ItemType) String() string {
	switch t {
	case TypeStatData:
		return "STAT_DATA"
	case TypeExtent:
		return "EXTENT"
	case TypeDirect:
		return "DIRECT"
	case TypeDirEntry:
		return "DIRENTRY"
	default:
		return fmt.Sprintf("ItemType(%d)", uint8(t))
	}
}

// v1 on-disk sentinel values for the upper 32 bits of OffsetType.
const (
	v1TypeStatData          = 0
	v1TypeDirEntry          = 500
	v1TypeExtent            = 0xFFFFFFFE
	v1TypeDirect            = 0xFFFFFFFF
)

// KeyFormat distinguishes the two on-disk packings of the
// offset+type 8-byte field.
type KeyFormat uint8

const (
	FormatV1 KeyFormat = iota
	FormatV2
)

func (f KeyFormat) String() string {
	if f == FormatV2 {
		return "v2"
	}
	return "v1"
}

// SafeLinkDirID is the reserved dir_id (~0) used by safe-link items
// recording an in-progress unlink or truncate.
const SafeLinkDirID = ObjID(math.MaxUint32)

// ObjID is an object identifier (32 bits, the same width as on disk).
type ObjID uint32

// Reserved object ids, per spec.md §3: object_id∉{0,1,~0} except for
// the reserved safe-link dir_id.
const (
	ReservedObjIDZero = ObjID(0)
	ReservedObjIDOne  = ObjID(1)
	ReservedObjIDMax  = ObjID(math.MaxUint32)
)

// Key is the 16-byte composite key: (dir_id, object_id,
// offset_and_type).  OffsetType is kept in its raw on-disk u64 form;
// use Offset/Type/Format to interpret it, and SetTypeAndOffset to
// build it, since the packing is format-dependent.
type Key struct {
	DirID      ObjID
	ObjectID   ObjID
	OffsetType uint64
}

// Format applies the heuristic from spec.md §4.1: v2 type codes are
// 1, 2, 3; v1 uses the sentinel values in the upper 32 bits, or a
// type code of 0 or 15 (MAX_KEY's reserved sentinel).
func (k Key) Format() KeyFormat {
	typ := k.OffsetType >> 60
	switch typ {
	case 1, 2, 3:
		return FormatV2
	default:
		return FormatV1
	}
}

// GetOffset returns the item's offset, decoded per the key's
// detected format.
func (k Key) GetOffset() uint64 {
	if k.Format() == FormatV2 {
		return k.OffsetType & ((1 << 60) - 1)
	}
	return k.OffsetType & 0xFFFFFFFF
}

// GetType returns the item's logical type, decoded per the key's
// detected format.
func (k Key) GetType() ItemType {
	if k.Format() == FormatV2 {
		switch (k.OffsetType >> 60) & 0xF {
		case 0:
			return TypeStatData
		case 1:
			return TypeExtent
		case 2:
			return TypeDirect
		case 3:
			return TypeDirEntry
		default:
			return TypeStatData
		}
	}
	switch uint32(k.OffsetType >> 32) {
	case v1TypeStatData:
		return TypeStatData
	case v1TypeDirEntry:
		return TypeDirEntry
	case v1TypeExtent:
		return TypeExtent
	case v1TypeDirect:
		return TypeDirect
	default:
		return TypeStatData
	}
}

// SetTypeAndOffset packs offset+type into the OffsetType field using
// the given format; all callers must pass the format explicitly so
// that code paths stay monomorphic (see spec.md §9).
func SetTypeAndOffset(format KeyFormat, off uint64, typ ItemType) uint64 {
	if format == FormatV2 {
		var code uint64
		switch typ {
		case TypeStatData:
			code = 0
		case TypeExtent:
			code = 1
		case TypeDirect:
			code = 2
		case TypeDirEntry:
			code = 3
		}
		return (off & ((1 << 60) - 1)) | (code << 60)
	}
	var sentinel uint64
	switch typ {
	case TypeStatData:
		sentinel = v1TypeStatData
	case TypeDirEntry:
		sentinel = v1TypeDirEntry
	case TypeExtent:
		sentinel = v1TypeExtent
	case TypeDirect:
		sentinel = v1TypeDirect
	}
	return (off & 0xFFFFFFFF) | (sentinel << 32)
}

func (k *Key) SetTypeAndOffset(format KeyFormat, off uint64, typ ItemType) {
	k.OffsetType = SetTypeAndOffset(format, off, typ)
}

// cmpU32 and cmpU64 are the tiny comparators our ordered containers
// need; we don't lean on a generic constraints-based helper here
// since this is the only place Key comparison happens and the
// natural operators already say what's needed.
func cmpU32(a, b ObjID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpU64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compare orders keys ascending by dir_id, then object_id, then
// offset, then type (spec.md §4.1 tie-break order).
func (a Key) Compare(b Key) int {
	if d := cmpU32(a.DirID, b.DirID); d != 0 {
		return d
	}
	if d := cmpU32(a.ObjectID, b.ObjectID); d != 0 {
		return d
	}
	if d := cmpU64(a.GetOffset(), b.GetOffset()); d != 0 {
		return d
	}
	return int(a.GetType()) - int(b.GetType())
}

// Cmp satisfies rcontainers.Ordered.
func (a Key) Cmp(b Key) int { return a.Compare(b) }

// CompareShort compares only the (dir_id, object_id) prefix that
// identifies a single filesystem object.
func (a Key) CompareShort(b Key) int {
	if d := cmpU32(a.DirID, b.DirID); d != 0 {
		return d
	}
	return cmpU32(a.ObjectID, b.ObjectID)
}

// ShortKey is the (dir_id, object_id) prefix used to identify one
// filesystem object, independent of any particular item's offset.
type ShortKey struct {
	DirID    ObjID
	ObjectID ObjID
}

func (k Key) Short() ShortKey {
	return ShortKey{DirID: k.DirID, ObjectID: k.ObjectID}
}

func (a ShortKey) Cmp(b ShortKey) int {
	if d := cmpU32(a.DirID, b.DirID); d != 0 {
		return d
	}
	return cmpU32(a.ObjectID, b.ObjectID)
}

func (k Key) String() string {
	return fmt.Sprintf("(%d %d %d %v)", k.DirID, k.ObjectID, k.GetOffset(), k.GetType())
}

// MaxKey is the greatest possible key, used as a sentinel upper
// bound during tree descent (mirrors btrfsprim.MaxKey).
var MaxKey = Key{
	DirID:      ObjID(math.MaxUint32),
	ObjectID:   ObjID(math.MaxUint32),
	OffsetType: math.MaxUint64,
}

// IsValidShortKey enforces spec.md §3's key invariants: dir_id≠0,
// object_id∉{0,1,~0} except for the reserved safe-link dir_id.
func IsValidShortKey(k ShortKey) bool {
	if k.DirID == SafeLinkDirID {
		return true
	}
	if k.DirID == 0 {
		return false
	}
	switch k.ObjectID {
	case ReservedObjIDZero, ReservedObjIDOne, ReservedObjIDMax:
		return false
	}
	return true
}

// IsSafeLink reports whether k belongs to the reserved safe-link
// range (dir_id = ~0).
func (k ShortKey) IsSafeLink() bool {
	return k.DirID == SafeLinkDirID
}
