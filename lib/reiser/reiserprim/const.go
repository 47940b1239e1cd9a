// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserprim

// StatData mode bits we actually care about (a small subset of
// POSIX's S_IF*; the checker only needs to distinguish directories
// and regular files).
const (
	ModeFmt  = 0o170000
	ModeDir  = 0o040000
	ModeReg  = 0o100000
	ModeLink = 0o120000
	ModeChr  = 0o020000
	ModeBlk  = 0o060000
	ModeFifo = 0o010000
	ModeSock = 0o140000
)

func IsDir(mode uint16) bool  { return mode&ModeFmt == ModeDir }
func IsReg(mode uint16) bool  { return mode&ModeFmt == ModeReg }
func IsDevice(mode uint16) bool {
	m := mode & ModeFmt
	return m == ModeChr || m == ModeBlk
}

// StoreTailThreshold is the default tail-packing policy: a file
// shorter than this many bytes keeps its last fragment inline as a
// Direct item instead of allocating a whole Extent block for it.
const StoreTailThreshold = 4096

// SafeLink offset sentinels (spec.md §4.4 "safe link").
const (
	SafeLinkTruncateOffset = uint64(1)
)

// SafeLinkKind distinguishes the two recognized safe-link forms.
type SafeLinkKind uint8

const (
	SafeLinkNone SafeLinkKind = iota
	SafeLinkTruncate
	SafeLinkUnlink
)

// ClassifySafeLink identifies which of the two safe-link forms (if
// any) an item with dir_id=~0 matches: truncate is oid+0x1 of length
// 4; unlink is oid+blocksize+1, length 4, stored as a Direct item.
func ClassifySafeLink(objID ObjID, offset uint64, itemType ItemType, itemLen uint32, blockSize uint32) SafeLinkKind {
	if itemType == TypeStatData {
		return SafeLinkNone
	}
	if offset == SafeLinkTruncateOffset && itemLen == 4 {
		return SafeLinkTruncate
	}
	if itemType == TypeDirect && offset == uint64(blockSize)+1 && itemLen == 4 {
		return SafeLinkUnlink
	}
	return SafeLinkNone
}
