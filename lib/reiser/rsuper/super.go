// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rsuper parses and re-serializes the ReiserFS superblock
// (spec.md §4.2): block_count, free_blocks, root_block, tree_height,
// bitmap_count, hash_code, journal params, uuid, label, and the magic
// string that distinguishes v1/v2/v3.6 filesystems.
package rsuper

import (
	"encoding/binary"
	"fmt"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
)

// Well-known byte offsets of the superblock block, relative to the
// start of the device; which one is in effect depends on when the
// filesystem was created.
const (
	OffsetNew = 64 * 1024
	OffsetOld = 8 * 1024
)

// Magic strings that appear at JournalParams.magic / the dedicated
// Magic field, one of which must match for the block to be accepted
// as a superblock at all.
const (
	Magic3_5 = "ReIsErFs"
	Magic3_6 = "ReIsEr2Fs"
	MagicJR  = "ReIsEr3Fs"
)

// Size is the fixed on-disk byte length of Superblock, matching the
// 0xc4 layout decoded below.
const Size = 0xc4

// journalParamsSize is JournalParams's span within Superblock.
const journalParamsSize = 0x20

// JournalParams is the fixed-size run of journal-location fields
// embedded in the superblock (spec.md §4.2's "journal params").
type JournalParams struct {
	Block        uint32
	Dev          uint32
	OrigSize     uint32
	TransMax     uint32
	Magic        uint32
	MaxBatch     uint32
	MaxCommitAge uint32
	MaxTransAge  uint32
}

func unmarshalJournalParams(buf []byte) JournalParams {
	return JournalParams{
		Block:        binary.LittleEndian.Uint32(buf[0x0:]),
		Dev:          binary.LittleEndian.Uint32(buf[0x4:]),
		OrigSize:     binary.LittleEndian.Uint32(buf[0x8:]),
		TransMax:     binary.LittleEndian.Uint32(buf[0xc:]),
		Magic:        binary.LittleEndian.Uint32(buf[0x10:]),
		MaxBatch:     binary.LittleEndian.Uint32(buf[0x14:]),
		MaxCommitAge: binary.LittleEndian.Uint32(buf[0x18:]),
		MaxTransAge:  binary.LittleEndian.Uint32(buf[0x1c:]),
	}
}

func (j JournalParams) marshalInto(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0x0:], j.Block)
	binary.LittleEndian.PutUint32(buf[0x4:], j.Dev)
	binary.LittleEndian.PutUint32(buf[0x8:], j.OrigSize)
	binary.LittleEndian.PutUint32(buf[0xc:], j.TransMax)
	binary.LittleEndian.PutUint32(buf[0x10:], j.Magic)
	binary.LittleEndian.PutUint32(buf[0x14:], j.MaxBatch)
	binary.LittleEndian.PutUint32(buf[0x18:], j.MaxCommitAge)
	binary.LittleEndian.PutUint32(buf[0x1c:], j.MaxTransAge)
}

// Superblock is the on-disk ReiserFS superblock, v2/v3.6 layout
// (spec.md §4.2). Older v1 images are read into the same struct; the
// v2-only fields (UUID, Label, MountCount, ...) are simply zero on a
// v1 image; the struct does not record which layout was read.
type Superblock struct {
	BlockCount uint32
	FreeBlocks uint32
	RootBlock  uint32
	Journal    JournalParams

	BlockSize          uint16
	OIDMaxSize         uint16
	OIDCurSize         uint16
	UmountState        uint16
	Magic              [12]byte
	FsState            uint16
	HashCode           uint32
	TreeHeight         uint16
	BitmapCount        uint16
	Version            uint16
	ReservedForJournal uint16

	InodeGeneration uint32
	Flags           uint32
	UUID            [16]byte
	Label           [16]byte
	MountCount      uint16
	MaxMountCount   uint16
	LastChecked     uint32
	CheckInterval   uint32

	Unused [66]byte
}

// ValidMagic reports whether Magic holds one of the three accepted
// signatures.
func (sb *Superblock) ValidMagic() bool {
	s := string(sb.Magic[:])
	for _, want := range []string{Magic3_5, Magic3_6, MagicJR} {
		if len(s) >= len(want) && s[:len(want)] == want {
			return true
		}
	}
	return false
}

// HashCodeToHash maps the on-disk hash_code field to the in-memory
// namehash.Hash enum used throughout the rebuilder/checker, falling
// back to "unset" (the checker treats that as "let pass 0 pick")
// for unrecognized values rather than guessing.
func (sb *Superblock) HashCodeToHash() namehash.Hash {
	switch sb.HashCode {
	case 0:
		return namehash.HashTEA
	case 1:
		return namehash.HashRupasov
	case 2:
		return namehash.HashR5
	default:
		return namehash.HashUnknown
	}
}

// Unmarshal decodes a raw superblock-sized buffer read from OffsetNew
// or OffsetOld, laying out fields by hand the way itembody_directory.go
// decodes directory headers, rather than through a reflection-driven
// struct-tag codec for a type this module only has one of.
func Unmarshal(buf []byte) (*Superblock, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("rsuper: unmarshal: buffer too short: need %d bytes, got %d", Size, len(buf))
	}

	var sb Superblock
	sb.BlockCount = binary.LittleEndian.Uint32(buf[0x0:])
	sb.FreeBlocks = binary.LittleEndian.Uint32(buf[0x4:])
	sb.RootBlock = binary.LittleEndian.Uint32(buf[0x8:])
	sb.Journal = unmarshalJournalParams(buf[0xc : 0xc+journalParamsSize])

	sb.BlockSize = binary.LittleEndian.Uint16(buf[0x2c:])
	sb.OIDMaxSize = binary.LittleEndian.Uint16(buf[0x2e:])
	sb.OIDCurSize = binary.LittleEndian.Uint16(buf[0x30:])
	sb.UmountState = binary.LittleEndian.Uint16(buf[0x32:])
	copy(sb.Magic[:], buf[0x34:0x40])
	sb.FsState = binary.LittleEndian.Uint16(buf[0x40:])
	sb.HashCode = binary.LittleEndian.Uint32(buf[0x42:])
	sb.TreeHeight = binary.LittleEndian.Uint16(buf[0x46:])
	sb.BitmapCount = binary.LittleEndian.Uint16(buf[0x48:])
	sb.Version = binary.LittleEndian.Uint16(buf[0x4a:])
	sb.ReservedForJournal = binary.LittleEndian.Uint16(buf[0x4c:])

	sb.InodeGeneration = binary.LittleEndian.Uint32(buf[0x4e:])
	sb.Flags = binary.LittleEndian.Uint32(buf[0x52:])
	copy(sb.UUID[:], buf[0x56:0x66])
	copy(sb.Label[:], buf[0x66:0x76])
	sb.MountCount = binary.LittleEndian.Uint16(buf[0x76:])
	sb.MaxMountCount = binary.LittleEndian.Uint16(buf[0x78:])
	sb.LastChecked = binary.LittleEndian.Uint32(buf[0x7a:])
	sb.CheckInterval = binary.LittleEndian.Uint32(buf[0x7e:])

	copy(sb.Unused[:], buf[0x82:0xc4])

	if !sb.ValidMagic() {
		return nil, fmt.Errorf("rsuper: no recognized magic string at offset 0x34")
	}
	return &sb, nil
}

// Marshal re-encodes the superblock, e.g. after fix-fixable repairs
// FreeBlocks or rebuild-tree installs a new RootBlock/TreeHeight.
func (sb *Superblock) Marshal() ([]byte, error) {
	buf := make([]byte, Size)

	binary.LittleEndian.PutUint32(buf[0x0:], sb.BlockCount)
	binary.LittleEndian.PutUint32(buf[0x4:], sb.FreeBlocks)
	binary.LittleEndian.PutUint32(buf[0x8:], sb.RootBlock)
	sb.Journal.marshalInto(buf[0xc : 0xc+journalParamsSize])

	binary.LittleEndian.PutUint16(buf[0x2c:], sb.BlockSize)
	binary.LittleEndian.PutUint16(buf[0x2e:], sb.OIDMaxSize)
	binary.LittleEndian.PutUint16(buf[0x30:], sb.OIDCurSize)
	binary.LittleEndian.PutUint16(buf[0x32:], sb.UmountState)
	copy(buf[0x34:0x40], sb.Magic[:])
	binary.LittleEndian.PutUint16(buf[0x40:], sb.FsState)
	binary.LittleEndian.PutUint32(buf[0x42:], sb.HashCode)
	binary.LittleEndian.PutUint16(buf[0x46:], sb.TreeHeight)
	binary.LittleEndian.PutUint16(buf[0x48:], sb.BitmapCount)
	binary.LittleEndian.PutUint16(buf[0x4a:], sb.Version)
	binary.LittleEndian.PutUint16(buf[0x4c:], sb.ReservedForJournal)

	binary.LittleEndian.PutUint32(buf[0x4e:], sb.InodeGeneration)
	binary.LittleEndian.PutUint32(buf[0x52:], sb.Flags)
	copy(buf[0x56:0x66], sb.UUID[:])
	copy(buf[0x66:0x76], sb.Label[:])
	binary.LittleEndian.PutUint16(buf[0x76:], sb.MountCount)
	binary.LittleEndian.PutUint16(buf[0x78:], sb.MaxMountCount)
	binary.LittleEndian.PutUint32(buf[0x7a:], sb.LastChecked)
	binary.LittleEndian.PutUint32(buf[0x7e:], sb.CheckInterval)

	copy(buf[0x82:0xc4], sb.Unused[:])

	return buf, nil
}
