// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisercheck

import (
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rfsckerr"
)

// checkNeighbors implements spec.md §4.4 step 4's adjacent-pair
// rule: "left key < right key; direct follows stat-data or extent of
// same file with matching offset arithmetic; extent/directory must
// be preceded by stat-data of same file."
func (c *Checker) checkNeighbors(blk bufcache.BlockNum, left, right reisertree.Item) {
	if left.Head.Key.Compare(right.Head.Key) >= 0 {
		c.fatal(rfsckerr.KindKeyOrderViolation, uint64(blk), "adjacent item keys not strictly ascending")
		return
	}

	sameObject := left.Head.Key.DirID == right.Head.Key.DirID && left.Head.Key.ObjectID == right.Head.Key.ObjectID
	if !sameObject {
		return
	}

	switch right.Body.Type() {
	case reiserprim.TypeDirect:
		switch l := left.Body.(type) {
		case reisertree.StatData, reisertree.Direct:
			// a tail immediately after stat-data, or a further
			// direct-item fragment of the same file, is fine
		case reisertree.Extent:
			wantOffset := left.Head.Key.GetOffset() + uint64(len(l.Pointers))*uint64(c.Cache.BlockSize())
			if right.Head.Key.GetOffset() != wantOffset {
				c.fixable(rfsckerr.KindSizeBlocksDrift, uint64(blk), "direct item does not continue extent's byte offset", false)
			}
		default:
			c.fixable(rfsckerr.KindKeyOrderViolation, uint64(blk), "direct item not preceded by stat-data or extent of the same file", false)
		}
	case reiserprim.TypeExtent:
		switch left.Body.(type) {
		case reisertree.StatData, reisertree.Extent:
			// stat-data starting a file, or a further extent
			// fragment of the same file, are both fine
		default:
			c.fixable(rfsckerr.KindKeyOrderViolation, uint64(blk), "extent item not preceded by stat-data or extent of the same file", false)
		}
	case reiserprim.TypeDirEntry:
		if _, ok := left.Body.(reisertree.StatData); !ok {
			c.fixable(rfsckerr.KindKeyOrderViolation, uint64(blk), "directory item not preceded by stat-data of the same file", false)
		}
	}
}
