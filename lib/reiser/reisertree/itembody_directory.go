// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import (
	"encoding/binary"
	"sort"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

// DirEntryHeaderSize is the fixed size of one directory-entry header,
// per spec.md §3 "Directory": "array of entry headers {offset
// (hash+generation), target_key, location, state}" — Offset(8) +
// TargetDir(4) + TargetObj(4) + Location(2) + State(2).
const DirEntryHeaderSize = 20

// EntryState bits, set in the low byte of a directory entry header.
type EntryState uint16

const (
	EntryVisible EntryState = 1 << iota
	EntryHasSafeLink
)

// DirEntry is one name/target pair within a Directory item.
type DirEntry struct {
	Offset     uint64 // hash<<7 | generation, per namehash
	TargetDir  reiserprim.ObjID
	TargetObj  reiserprim.ObjID
	Location   uint16 // byte offset of Name from the start of the item body
	State      EntryState
	Name       []byte
}

func (e DirEntry) Visible() bool { return e.State&EntryVisible != 0 }

// Directory is a directory item: entry headers sorted by descending
// Location, names packed backward from the end of the item body
// (spec.md §3, §4.4 "entries are stored in the item sorted by
// location descending, with names packed from the end of the item").
type Directory struct {
	Entries []DirEntry
}

func (Directory) Type() reiserprim.ItemType { return reiserprim.TypeDirEntry }

func (d Directory) Len() int {
	total := len(d.Entries) * DirEntryHeaderSize
	for _, e := range d.Entries {
		total += len(e.Name)
	}
	return total
}

// Marshal lays out entry headers ascending from the start of the
// body (index order, matching on-disk hash-key order) and packs
// names back-to-front from the end, each name ending where the next
// entry's Location begins.
func (d Directory) Marshal() []byte {
	buf := make([]byte, d.Len())
	nameEnd := len(buf)
	for i, e := range d.Entries {
		off := i * DirEntryHeaderSize
		nameStart := nameEnd - len(e.Name)
		binary.LittleEndian.PutUint64(buf[off:off+8], e.Offset)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(e.TargetDir))
		binary.LittleEndian.PutUint32(buf[off+12:off+16], uint32(e.TargetObj))
		binary.LittleEndian.PutUint16(buf[off+16:off+18], uint16(nameStart))
		binary.LittleEndian.PutUint16(buf[off+18:off+20], uint16(e.State))
		copy(buf[nameStart:nameEnd], e.Name)
		nameEnd = nameStart
	}
	return buf
}

// UnmarshalDirectory parses entryCount fixed headers from the front
// of buf and resolves each name from the trailing name-pack region,
// validating that locations are strictly descending (spec.md §4.4
// edge case: "a directory item whose entry locations are not
// descending, or overlap, is corrupt").
func UnmarshalDirectory(buf []byte, entryCount int) (Directory, error) {
	headerBytes := entryCount * DirEntryHeaderSize
	if len(buf) < headerBytes {
		return Directory{}, errShortBuffer("directory headers", headerBytes, len(buf))
	}
	entries := make([]DirEntry, entryCount)
	for i := 0; i < entryCount; i++ {
		off := i * DirEntryHeaderSize
		entries[i].Offset = binary.LittleEndian.Uint64(buf[off : off+8])
		entries[i].TargetDir = reiserprim.ObjID(binary.LittleEndian.Uint32(buf[off+8 : off+12]))
		entries[i].TargetObj = reiserprim.ObjID(binary.LittleEndian.Uint32(buf[off+12 : off+16]))
		entries[i].Location = binary.LittleEndian.Uint16(buf[off+16 : off+18])
		entries[i].State = EntryState(binary.LittleEndian.Uint16(buf[off+18 : off+20]))
	}
	prevEnd := len(buf)
	for i := range entries {
		loc := int(entries[i].Location)
		if loc < headerBytes || loc >= prevEnd {
			return Directory{}, errShortBuffer("directory entry location out of range", 0, 0)
		}
		entries[i].Name = append([]byte(nil), buf[loc:prevEnd]...)
		prevEnd = loc
	}
	return Directory{Entries: entries}, nil
}

// SortByLocationDescending reorders Entries into on-disk order, and
// is used after inserting or removing an entry to restore the
// invariant Marshal depends on.
func (d *Directory) SortByLocationDescending() {
	sort.Slice(d.Entries, func(i, j int) bool {
		return d.Entries[i].Location > d.Entries[j].Location
	})
}

// SortByOffset restores hash-key order, the order entries must be in
// for SearchByEntryKey's binary search to be valid.
func (d *Directory) SortByOffset() {
	sort.Slice(d.Entries, func(i, j int) bool {
		return d.Entries[i].Offset < d.Entries[j].Offset
	})
}
