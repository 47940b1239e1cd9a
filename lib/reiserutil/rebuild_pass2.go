// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"context"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

// Pass2 is item-by-item insertion (spec.md §4.7): two sweeps over
// every item salvaged from blocks pass 1 couldn't graft whole —
// sweep A places stat-data so later directory-entry/file-body
// insertions always have somewhere to attach relocated keys, sweep B
// places everything else.
func (c *Context) Pass2(ctx context.Context, builder *TreeBuilder, uninsertable *rbitmap.Bitmap) error {
	blockSize := c.Cache.BlockSize()

	var blocks []rbitmap.BlockNum
	for blk := rbitmap.BlockNum(0); uint64(blk) < c.BlockCount; blk++ {
		if uninsertable.Test(blk) {
			blocks = append(blocks, blk)
		}
	}

	// Sweep A: stat-data only.
	for i, blk := range blocks {
		c.Reporter.Progress("pass2-sweepA", uint64(i+1), uint64(len(blocks)))
		items, err := c.readUninsertableItems(blk, blockSize)
		if err != nil {
			continue
		}
		for _, it := range items {
			if _, ok := it.Body.(reisertree.StatData); ok {
				c.insertSeparately(builder, it, true, blockSize)
			}
		}
	}

	// Sweep B: everything else.
	for i, blk := range blocks {
		c.Reporter.Progress("pass2-sweepB", uint64(i+1), uint64(len(blocks)))
		items, err := c.readUninsertableItems(blk, blockSize)
		if err != nil {
			continue
		}
		for _, it := range items {
			if _, ok := it.Body.(reisertree.StatData); !ok {
				c.insertSeparately(builder, it, true, blockSize)
			}
		}
	}

	return nil
}

func (c *Context) readUninsertableItems(blk rbitmap.BlockNum, blockSize uint32) ([]reisertree.Item, error) {
	buf, err := c.Cache.ReadBlock(blk)
	if err != nil {
		return nil, err
	}
	if reisertree.Classify(buf, blockSize) != reisertree.KindLeaf && reisertree.Classify(buf, blockSize) != reisertree.KindItemArrayOnly {
		return nil, nil
	}
	leaf, err := reisertree.UnmarshalLeaf(buf, blockSize)
	if err != nil {
		return nil, nil
	}
	return leaf.Items, nil
}

// insertSeparately implements spec.md §4.7's insert_separately for
// one item, dispatching by body type.
func (c *Context) insertSeparately(builder *TreeBuilder, it reisertree.Item, wasInTree bool, blockSize uint32) {
	switch it.Body.(type) {
	case reisertree.StatData:
		c.insertStatData(builder, it, blockSize)
	case reisertree.Directory:
		c.insertDirectoryItem(builder, it, blockSize)
	case reisertree.Extent, reisertree.Direct:
		c.fileWrite(builder, it, blockSize)
	}
}

// insertStatData implements the stat-data conflict/relocation rule:
// same key, one side a directory, the other a regular file ⇒
// relocate the newcomer; same kind ⇒ keep the newer mtime; same
// mtime/kind but differing format ⇒ prefer v2.
func (c *Context) insertStatData(builder *TreeBuilder, it reisertree.Item, blockSize uint32) {
	newSD := it.Body.(reisertree.StatData)
	k := it.Head.Key

	if slot, ok := builder.Find(k); ok {
		if existing, found := findItem(slot.Leaf, k); found {
			if existingSD, ok := existing.Body.(reisertree.StatData); ok {
				switch {
				case reiserprim.IsDir(existingSD.Mode) != reiserprim.IsDir(newSD.Mode):
					c.relocateAndInsert(builder, it, blockSize)
					return
				case newSD.MTime > existingSD.MTime:
					// newer wins; fall through to overwrite
				case newSD.MTime == existingSD.MTime && newSD.Format == reiserprim.FormatV2 && existingSD.Format != reiserprim.FormatV2:
					// prefer v2
				default:
					return // existing item wins, nothing to do
				}
			}
		}
	}

	c.placeItem(builder, it, blockSize)
}

// relocateAndInsert implements spec.md §4.7's Relocation procedure: a
// freshly allocated object id replaces the conflicting one, and the
// mapping is recorded with RecordRelocation. Only the item being
// inserted is re-keyed, and nothing reads the mapping back: the
// semantic pass does not rewrite directory entries that still name
// the old key.
func (c *Context) relocateAndInsert(builder *TreeBuilder, it reisertree.Item, blockSize uint32) {
	oldKey := it.Head.Key
	newOID := c.Objects.Allocate()
	c.RecordRelocation(ObjID(oldKey.DirID), ObjID(oldKey.ObjectID), newOID)

	it.Head.Key.ObjectID = newOID
	c.placeItem(builder, it, blockSize)
	c.Objects.Mark(newOID)
}

// insertDirectoryItem places every entry of a recovered directory
// item, creating a fresh single-entry Directory item at the target
// key the first time an entry needs somewhere to live. Entries whose
// parent stat-data hasn't been inserted yet are still linked (marked
// unreachable is a pass-3 reachability concept, not a storage flag
// here — pass 3's DFS is what actually confers reachability).
func (c *Context) insertDirectoryItem(builder *TreeBuilder, it reisertree.Item, blockSize uint32) {
	dir := it.Body.(reisertree.Directory)
	canonical := CanonicalDirKey(it.Head.Key.DirID, it.Head.Key.ObjectID)
	for _, e := range dir.Entries {
		c.insertEntry(builder, canonical, e, blockSize)
	}
}

// CanonicalDirKey is every directory object's single synthesized
// directory-item key: rather than modeling the original multi-item
// per-range layout real ReiserFS uses once a directory's entries
// overflow one leaf, the rebuilder keeps all of an object's surviving
// entries under one item keyed at offset 0, splitting across leaves
// only when TreeBuilder allocates a fresh block for overflow.
func CanonicalDirKey(dirID, objID reiserprim.ObjID) reiserprim.Key {
	var k reiserprim.Key
	k.DirID = dirID
	k.ObjectID = objID
	k.OffsetType = reiserprim.SetTypeAndOffset(reiserprim.FormatV2, 0, reiserprim.TypeDirEntry)
	return k
}

func (c *Context) insertEntry(builder *TreeBuilder, dirItemKey reiserprim.Key, e reisertree.DirEntry, blockSize uint32) {
	if slot, ok := builder.Find(dirItemKey); ok {
		leaf := slot.Leaf
		if err := leaf.InsertEntry(dirItemKey, e, blockSize); err == nil {
			builder.Replace(slot, leaf)
			return
		}
	}
	// No directory item yet at this key (or no room): synthesize one
	// holding just this entry.
	newDir := reisertree.Directory{Entries: []reisertree.DirEntry{e}}
	newItem := reisertree.Item{
		Head: reisertree.ItemHeader{Key: dirItemKey, Format: reiserprim.FormatV2, FreeSpaceOrEntryCount: 1},
		Body: newDir,
	}
	c.placeItem(builder, newItem, blockSize)
}

// fileWrite implements spec.md §4.7's file_write delegation for
// Extent/Direct bodies: the item is placed at its key if the target
// range is free; on collision with an existing item for the same
// object at the same offset, the first writer wins and the newcomer
// is dropped (spec.md: "first wins; later duplicates are cleared").
func (c *Context) fileWrite(builder *TreeBuilder, it reisertree.Item, blockSize uint32) {
	if slot, ok := builder.Find(it.Head.Key); ok {
		if _, found := findItem(slot.Leaf, it.Head.Key); found {
			return // first writer already holds this exact key
		}
	}
	c.placeItem(builder, it, blockSize)
}

// placeItem is the shared "put this whole item somewhere in the
// builder" primitive: try the leaf that already covers (or
// immediately precedes) its key, falling back to a brand-new leaf on
// a freshly allocated block when there's no room or no leaf yet.
func (c *Context) placeItem(builder *TreeBuilder, it reisertree.Item, blockSize uint32) {
	if slot, ok := builder.FindOrNearestLeft(it.Head.Key); ok {
		leaf := slot.Leaf
		if leaf.InsertItem(it, blockSize) == nil {
			builder.Replace(slot, leaf)
			return
		}
	}

	blk, ok := c.Allocable.FirstClear(0)
	if !ok {
		return // device full; item is dropped rather than panicking
	}
	c.Allocable.Set(blk)
	c.New.Set(blk)

	leaf := reisertree.Leaf{Head: reisertree.BlockHeader{Level: reisertree.LeafLevel}}
	_ = leaf.InsertItem(it, blockSize)
	builder.Insert(bufcache.BlockNum(blk), leaf)
}

func findItem(leaf reisertree.Leaf, k reiserprim.Key) (reisertree.Item, bool) {
	for _, it := range leaf.Items {
		if it.Head.Key.Compare(k) == 0 {
			return it, true
		}
	}
	return reisertree.Item{}, false
}
