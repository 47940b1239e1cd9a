// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"context"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

// Pass0 is leaf recovery (spec.md §4.5): scan every block in scan,
// salvage what it can of every block that classifies as a Leaf or
// ItemArrayOnly, and record the survivors in c.Leaves.
//
// superblockHash seeds the tie-break in the post-pass HashSelector
// vote; the winning hash is returned so the caller can update the
// in-memory superblock copy before pass 1 runs.
func (c *Context) Pass0(ctx context.Context, scan *rbitmap.Bitmap, superblockHash namehash.Hash) (namehash.Hash, error) {
	c.Hash = namehash.NewSelector(superblockHash)
	blockSize := c.Cache.BlockSize()
	total := uint64(c.BlockCount)
	var scanned uint64

	for blk := rbitmap.BlockNum(0); uint64(blk) < c.BlockCount; blk++ {
		if !scan.Test(blk) {
			continue
		}
		scanned++
		c.Reporter.Progress("pass0", scanned, total)

		buf, err := c.Cache.ReadBlock(blk)
		if err != nil {
			// I/O error: treat the block as unknown and move on
			// (spec.md §7 "I/O error").
			continue
		}
		kind := reisertree.Classify(buf, blockSize)
		if kind != reisertree.KindLeaf && kind != reisertree.KindItemArrayOnly {
			continue
		}
		leaf, err := reisertree.UnmarshalLeaf(buf, blockSize)
		if err != nil {
			continue
		}

		leaf.Items = c.repairLeafItems(leaf.Items, blockSize)
		if len(leaf.Items) == 0 {
			continue
		}

		if err := c.Cache.WriteBlock(blk, leaf.Marshal(blockSize)); err != nil {
			return namehash.HashUnknown, err
		}
		c.Leaves.Set(blk)
	}

	return c.Hash.Winner(), nil
}

// repairLeafItems runs the per-item repair battery of spec.md §4.5
// step 2 and returns the surviving items in order.
func (c *Context) repairLeafItems(items []reisertree.Item, blockSize uint32) []reisertree.Item {
	out := items[:0:0]
	for i, it := range items {
		k := it.Head.Key.Short()

		// Step 1: sentinel trash. A legitimate safe-link item lives
		// at dir_id=~0 too, so only genuinely-garbage occupants of
		// that reserved range are dropped here; real safe links
		// survive to be walked by check_safe_links in pass 3.
		if k.DirID == reiserprim.ObjID(0) {
			continue
		}
		if k.IsSafeLink() {
			sl := reiserprim.ClassifySafeLink(k.ObjectID, it.Head.Key.GetOffset(), it.Head.Key.GetType(), uint32(it.Head.Length), blockSize)
			if sl == reiserprim.SafeLinkNone {
				continue
			}
			out = append(out, it)
			continue
		}

		if !reiserprim.IsValidShortKey(k) {
			if borrowed, ok := borrowShortKey(items, i); ok {
				it.Head.Key.DirID = borrowed.DirID
				it.Head.Key.ObjectID = borrowed.ObjectID
			} else {
				continue
			}
		}

		switch body := it.Body.(type) {
		case reisertree.Directory:
			repaired, ok := c.verifyDirectoryItem(body)
			if !ok {
				continue
			}
			it.Body = repaired
		case reisertree.Extent:
			c.registerExtentPointers(body, blockSize)
		}

		// Every surviving item's own id, and the directory it claims
		// to live under, are "in use" from here on: pass 2/3a's
		// relocation must never hand out one of these as if it were
		// free.
		c.Objects.Mark(it.Head.Key.DirID)
		c.Objects.Mark(it.Head.Key.ObjectID)

		out = append(out, it)
	}
	return out
}

// borrowShortKey implements spec.md §4.5's id-borrowing heuristic:
// "prefer the id already confirmed by two surrounding items". If the
// item immediately before and immediately after idx (among the
// already-scanned array, pre-repair) agree on a (dir_id, object_id)
// pair, that pair is adopted.
func borrowShortKey(items []reisertree.Item, idx int) (reiserprim.ShortKey, bool) {
	if idx == 0 || idx+1 >= len(items) {
		return reiserprim.ShortKey{}, false
	}
	left := items[idx-1].Head.Key.Short()
	right := items[idx+1].Head.Key.Short()
	if left.DirID == right.DirID && left.ObjectID == right.ObjectID && reiserprim.IsValidShortKey(left) {
		return left, true
	}
	return reiserprim.ShortKey{}, false
}

// verifyDirectoryItem implements spec.md §4.5's directory-item
// repair: drop entries whose offset doesn't match any name length
// under any hash, then vote the surviving entries' common hash (if
// any) into the HashSelector.
func (c *Context) verifyDirectoryItem(d reisertree.Directory) (reisertree.Directory, bool) {
	kept := d.Entries[:0:0]
	for _, e := range d.Entries {
		if len(e.Name) == 0 {
			continue
		}
		if namehash.Detect([]namehash.Entry{{Name: e.Name, Offset: e.Offset}}) == namehash.HashUnknown {
			continue // no hash under any candidate matches this name/offset pair
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return reisertree.Directory{}, false
	}
	d.Entries = kept
	d.SortByLocationDescending()

	entries := make([]namehash.Entry, len(kept))
	for i, e := range kept {
		entries[i] = namehash.Entry{Name: e.Name, Offset: e.Offset}
	}
	if h := namehash.Detect(entries); h != namehash.HashUnknown {
		c.Hash.Observe(h)
	}
	// A block whose entries don't agree on one hash at all is a
	// "too-old leaf" under the eventually-selected hash; it's not
	// dropped here (the selector isn't final yet) but pass 1 deletes
	// any entry that doesn't match the winning hash.
	return d, true
}

// registerExtentPointers implements spec.md §4.5 step 2's extent
// bookkeeping: first sighting of a non-zero, in-range pointer marks
// it good_unfm; a repeat sighting moves it to bad_unfm (duplicated
// across files); pointers into reserved ranges are zeroed.
func (c *Context) registerExtentPointers(e reisertree.Extent, blockSize uint32) {
	for i, p := range e.Pointers {
		if p == 0 {
			continue
		}
		ptr := rbitmap.BlockNum(p)
		if uint64(ptr) >= c.BlockCount || c.Reserved.Test(ptr) {
			e.Pointers[i] = 0
			continue
		}
		if c.GoodUnfm.Test(ptr) {
			c.GoodUnfm.Clear(ptr)
			c.BadUnfm.Set(ptr)
			continue
		}
		if !c.BadUnfm.Test(ptr) {
			c.GoodUnfm.Set(ptr)
		}
	}
}
