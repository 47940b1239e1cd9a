// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import (
	"fmt"
	"sort"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

// UsedBytes returns the body bytes currently occupied by items,
// excluding headers.
func (l Leaf) UsedBytes() int {
	n := 0
	for _, it := range l.Items {
		n += it.Body.Len()
	}
	return n
}

// FreeSpace returns the bytes available for new items/header slots
// at the given block size.
func (l Leaf) FreeSpace(blockSize BlockSize) int {
	return int(blockSize) - BlockHeaderSize - len(l.Items)*ItemHeaderSize - l.UsedBytes()
}

func (l Leaf) indexOf(k reiserprim.Key) (int, bool) {
	i := sort.Search(len(l.Items), func(i int) bool {
		return l.Items[i].Head.Key.Compare(k) >= 0
	})
	if i < len(l.Items) && l.Items[i].Head.Key.Compare(k) == 0 {
		return i, true
	}
	return i, false
}

// InsertItem is the NodeCodec `insert_item` primitive: inserts a
// whole new item at its sorted position. It is an error (the caller
// must split first) for there to be insufficient free space.
func (l *Leaf) InsertItem(it Item, blockSize BlockSize) error {
	if _, found := l.indexOf(it.Head.Key); found {
		return fmt.Errorf("reisertree: insert_item: key %s already present", it.Head.Key)
	}
	need := ItemHeaderSize + it.Body.Len()
	if need > l.FreeSpace(blockSize) {
		return fmt.Errorf("reisertree: insert_item: not enough free space (need %d, have %d)", need, l.FreeSpace(blockSize))
	}
	pos, _ := l.indexOf(it.Head.Key)
	l.Items = append(l.Items, Item{})
	copy(l.Items[pos+1:], l.Items[pos:])
	l.Items[pos] = it
	return nil
}

// DeleteItem is the `delete_item` primitive: removes the item with
// the given key whole.
func (l *Leaf) DeleteItem(k reiserprim.Key) error {
	pos, found := l.indexOf(k)
	if !found {
		return fmt.Errorf("reisertree: delete_item: key %s not present", k)
	}
	l.Items = append(l.Items[:pos], l.Items[pos+1:]...)
	return nil
}

// Paste is the `paste` primitive: appends data into an existing
// item's body at a byte offset (used to grow a Direct item's tail or
// an Extent's pointer array). Only Direct and Extent bodies support
// pasting; a paste into a StatData or Directory item is a caller
// error.
func (l *Leaf) Paste(k reiserprim.Key, at int, data []byte, blockSize BlockSize) error {
	pos, found := l.indexOf(k)
	if !found {
		return fmt.Errorf("reisertree: paste: key %s not present", k)
	}
	if len(data) > l.FreeSpace(blockSize) {
		return fmt.Errorf("reisertree: paste: not enough free space")
	}
	switch b := l.Items[pos].Body.(type) {
	case Direct:
		buf := append([]byte(nil), b.Data[:at]...)
		buf = append(buf, data...)
		buf = append(buf, b.Data[at:]...)
		b.Data = buf
		b.Padding = 0
		if b.Format == reiserprim.FormatV2 {
			round := (len(buf) + 7) &^ 7
			b.Padding = round - len(buf)
		}
		l.Items[pos].Body = b
	case Extent:
		if at%4 != 0 || len(data)%4 != 0 {
			return fmt.Errorf("reisertree: paste: extent offsets must be 4-byte aligned")
		}
		ptrs := append([]uint32(nil), b.Pointers[:at/4]...)
		for i := 0; i+4 <= len(data); i += 4 {
			ptrs = append(ptrs, uint32(data[i])|uint32(data[i+1])<<8|uint32(data[i+2])<<16|uint32(data[i+3])<<24)
		}
		ptrs = append(ptrs, b.Pointers[at/4:]...)
		b.Pointers = ptrs
		l.Items[pos].Body = b
	default:
		return fmt.Errorf("reisertree: paste: item type %s does not support pasting", l.Items[pos].Body.Type())
	}
	return nil
}

// Cut is the `cut` primitive: the inverse of Paste — removes
// [at,at+n) bytes from an existing Direct or Extent item's body. If
// the cut empties the item, the caller is responsible for following
// up with DeleteItem.
func (l *Leaf) Cut(k reiserprim.Key, at, n int) error {
	pos, found := l.indexOf(k)
	if !found {
		return fmt.Errorf("reisertree: cut: key %s not present", k)
	}
	switch b := l.Items[pos].Body.(type) {
	case Direct:
		b.Data = append(b.Data[:at:at], b.Data[at+n:]...)
		l.Items[pos].Body = b
	case Extent:
		lo, hi := at/4, (at+n)/4
		b.Pointers = append(b.Pointers[:lo:lo], b.Pointers[hi:]...)
		l.Items[pos].Body = b
	default:
		return fmt.Errorf("reisertree: cut: item type %s does not support cutting", l.Items[pos].Body.Type())
	}
	return nil
}

// InsertEntry is the `insert_entry` primitive: adds one directory
// entry to the Directory item with the given key, maintaining both
// the on-disk location-descending layout and the offset-ascending
// search order.
func (l *Leaf) InsertEntry(k reiserprim.Key, e DirEntry, blockSize BlockSize) error {
	pos, found := l.indexOf(k)
	if !found {
		return fmt.Errorf("reisertree: insert_entry: directory item %s not present", k)
	}
	dir, ok := l.Items[pos].Body.(Directory)
	if !ok {
		return fmt.Errorf("reisertree: insert_entry: item %s is not a directory", k)
	}
	need := DirEntryHeaderSize + len(e.Name)
	if need > l.FreeSpace(blockSize) {
		return fmt.Errorf("reisertree: insert_entry: not enough free space")
	}
	dir.Entries = append(dir.Entries, e)
	dir.SortByOffset()
	l.Items[pos].Body = dir
	l.Items[pos].Head.FreeSpaceOrEntryCount = uint16(len(dir.Entries))
	return nil
}

// CutEntry is the `cut_entry` primitive: removes the directory entry
// matching offset from the Directory item with the given key.
func (l *Leaf) CutEntry(k reiserprim.Key, offset uint64) error {
	pos, found := l.indexOf(k)
	if !found {
		return fmt.Errorf("reisertree: cut_entry: directory item %s not present", k)
	}
	dir, ok := l.Items[pos].Body.(Directory)
	if !ok {
		return fmt.Errorf("reisertree: cut_entry: item %s is not a directory", k)
	}
	out := dir.Entries[:0]
	removed := false
	for _, e := range dir.Entries {
		if e.Offset == offset && !removed {
			removed = true
			continue
		}
		out = append(out, e)
	}
	if !removed {
		return fmt.Errorf("reisertree: cut_entry: no entry at offset %d", offset)
	}
	dir.Entries = out
	l.Items[pos].Body = dir
	l.Items[pos].Head.FreeSpaceOrEntryCount = uint16(len(dir.Entries))
	return nil
}
