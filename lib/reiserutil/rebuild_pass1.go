// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"context"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

// Pass1 is leaf grafting (spec.md §4.6): every leaf pass 0 accepted
// is re-verified, trimmed of entries under the loser hash and
// colliding extent pointers, then offered to the TreeBuilder as a
// whole-block splice. Leaves TreeOps can't place are returned as the
// uninsertable bitmap for pass 2.
func (c *Context) Pass1(ctx context.Context, selectedHash namehash.Hash) (*TreeBuilder, *rbitmap.Bitmap, error) {
	blockSize := c.Cache.BlockSize()
	size := rbitmap.BlockNum(c.BlockCount)

	c.New = rbitmap.New(size)
	c.New.Or(c.Reserved)

	used := rbitmap.New(size)
	used.Or(c.Leaves)
	used.Or(c.BadUnfm)
	used.Or(c.GoodUnfm)
	used.Or(c.Reserved)
	c.Allocable = rbitmap.New(size)
	c.Allocable.SetRange(0, size)
	c.Allocable.AndNot(used)

	builder := &TreeBuilder{}
	uninsertable := rbitmap.New(size)

	var scanned uint64
	total := uint64(c.Leaves.Count())

	for blk := rbitmap.BlockNum(0); uint64(blk) < c.BlockCount; blk++ {
		if !c.Leaves.Test(blk) {
			continue
		}
		scanned++
		c.Reporter.Progress("pass1", scanned, total)

		buf, err := c.Cache.ReadBlock(blk)
		if err != nil {
			continue
		}
		if reisertree.Classify(buf, blockSize) != reisertree.KindLeaf {
			continue
		}
		leaf, err := reisertree.UnmarshalLeaf(buf, blockSize)
		if err != nil {
			continue
		}

		leaf.Items = c.trimLeafForGraft(leaf.Items, selectedHash, blockSize)
		if len(leaf.Items) == 0 {
			continue
		}

		// A leaf carrying two items under the same key (e.g.
		// objectid-sharing stat-datas) can't be grafted whole: pass
		// 2's item-by-item conflict resolution needs to see them one
		// at a time, so send the whole block to the uninsertable set
		// rather than letting TryGraftLeaf accept the collision as-is.
		if hasDuplicateKeys(leaf.Items) {
			uninsertable.Set(blk)
			continue
		}

		if builder.TryGraftLeaf(bufcache.BlockNum(blk), leaf) {
			c.New.Set(blk)
		} else {
			uninsertable.Set(blk)
		}
	}

	if c.RootBlock == 0 && builder.Len() > 0 {
		// Empty-tree bootstrap (spec.md §4.6): tree_height becomes 2
		// as soon as there's at least one leaf to root a tree over;
		// RootBlock itself is assigned when writeTree first writes the
		// tree after pass 2 (commitTree), and again in pass 4.
		c.TreeHeight = 2
	}

	return builder, uninsertable, nil
}

// trimLeafForGraft applies spec.md §4.6 steps 2-3: directory entries
// under the losing hash are dropped, and extent pointers that would
// double as another leaf's data, or repeat a bad_unfm sighting beyond
// the first, are zeroed.
func (c *Context) trimLeafForGraft(items []reisertree.Item, selectedHash namehash.Hash, blockSize uint32) []reisertree.Item {
	out := items[:0:0]
	for _, it := range items {
		switch body := it.Body.(type) {
		case reisertree.Directory:
			kept := body.Entries[:0:0]
			for _, e := range body.Entries {
				if namehash.GetHash(e.Offset) == namehash.Compute(selectedHash, e.Name)&0x7fffffff {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				continue // whole item dropped, matching "or the whole item if it's the last"
			}
			body.Entries = kept
			it.Body = body
		case reisertree.Extent:
			for i, p := range body.Pointers {
				if p == 0 {
					continue
				}
				ptr := rbitmap.BlockNum(p)
				if c.Leaves.Test(ptr) {
					body.Pointers[i] = 0
					continue
				}
				if c.BadUnfm.Test(ptr) {
					if !c.MarkBadUnfmSeen(p) {
						body.Pointers[i] = 0
					}
				}
			}
			it.Body = body
		}
		out = append(out, it)
	}
	return out
}

// hasDuplicateKeys reports whether two items in the same leaf share
// a key (spec.md §4.7's objectid-sharing scenario) — such a leaf
// can't be grafted whole, since TreeBuilder's slots assume one item
// per key.
func hasDuplicateKeys(items []reisertree.Item) bool {
	seen := make(map[reiserprim.Key]bool, len(items))
	for _, it := range items {
		if seen[it.Head.Key] {
			return true
		}
		seen[it.Head.Key] = true
	}
	return false
}
