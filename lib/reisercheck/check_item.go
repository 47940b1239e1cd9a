// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisercheck

import (
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rfsckerr"
)

// checkItem runs the per-item checks of spec.md §4.4's "Per-item
// checks" list against one already-structurally-decoded item.
func (c *Checker) checkItem(blk bufcache.BlockNum, it reisertree.Item) {
	switch body := it.Body.(type) {
	case reisertree.StatData:
		c.checkStatData(blk, it.Head.Key, body)
	case reisertree.Extent:
		c.checkExtent(blk, it.Head.Key, body)
	case reisertree.Direct:
		c.checkDirect(blk, it.Head.Key, body)
	case reisertree.Directory:
		c.checkDirectory(blk, it.Head.Key, body)
	}

	if it.Head.Key.DirID == reiserprim.SafeLinkDirID {
		c.checkSafeLink(blk, it)
	}
}

func (c *Checker) checkStatData(blk bufcache.BlockNum, key reiserprim.Key, sd reisertree.StatData) {
	if c.objects.Test(key.ObjectID) {
		c.fixable(rfsckerr.KindRelocatedObject, uint64(blk),
			"object_id already claimed by another stat-data (objectid sharing)", false)
	} else {
		c.objects.Mark(key.ObjectID)
	}

	switch {
	case sd.IsDir():
		if sd.NLink < 2 {
			c.fixable(rfsckerr.KindNLinkWrong, uint64(blk), "directory nlink < 2", false)
		}
	case sd.IsRegular():
		if sd.NLink < 1 {
			c.fixable(rfsckerr.KindNLinkWrong, uint64(blk), "regular file nlink < 1", false)
		}
	}
}

func (c *Checker) checkExtent(blk bufcache.BlockNum, key reiserprim.Key, ext reisertree.Extent) {
	if len(ext.Pointers) == 0 {
		return
	}
	for i, ptr := range ext.Pointers {
		if ptr == 0 {
			c.info(rfsckerr.KindZeroExtentPointer, uint64(blk), "hole in extent")
			continue
		}
		target := bufcache.BlockNum(ptr)
		if uint64(target) >= c.BlockCount || c.Reserved.Test(target) || c.control.Test(target) {
			if c.FixFixable {
				ext.Pointers[i] = 0
				c.fixable(rfsckerr.KindBitmapMismatch, uint64(blk), "extent pointer targets an illegal data block; zeroed", true)
			} else {
				c.fixable(rfsckerr.KindBitmapMismatch, uint64(blk), "extent pointer targets an illegal data block", false)
			}
		}
	}
}

func (c *Checker) checkDirect(blk bufcache.BlockNum, key reiserprim.Key, d reisertree.Direct) {
	if d.Format == reiserprim.FormatV2 {
		if (len(d.Data)+d.Padding)%8 != 0 {
			c.fixable(rfsckerr.KindSizeBlocksDrift, uint64(blk), "v2 direct item length not 8-byte aligned", false)
		}
	}
}

func (c *Checker) checkDirectory(blk bufcache.BlockNum, key reiserprim.Key, dir reisertree.Directory) {
	for _, e := range dir.Entries {
		if !e.Visible() {
			c.fixable(rfsckerr.KindEntryNotVisible, uint64(blk), "directory entry state is not VISIBLE", false)
		}
		if c.Hash != namehash.HashUnknown {
			want := namehash.GetHash(e.Offset)
			got := namehash.Compute(c.Hash, e.Name) & 0x7fffffff
			if want != got>>7 && want != got {
				c.fixable(rfsckerr.KindBitmapMismatch, uint64(blk), "entry name does not hash to its recorded offset", false)
			}
		}
	}
	for i := 1; i < len(dir.Entries); i++ {
		if dir.Entries[i-1].Location <= dir.Entries[i].Location {
			c.fixable(rfsckerr.KindEntryLocationOrder, uint64(blk), "deh_location not strictly descending", false)
		}
	}
}

// checkSafeLink validates the two recognized safe-link shapes from
// spec.md §4.4: "exactly one of the two recognized forms (truncate:
// oid+0x1, len 4; unlink: oid+blocksize+1, len 4, direct)".
func (c *Checker) checkSafeLink(blk bufcache.BlockNum, it reisertree.Item) {
	offset := it.Head.Key.GetOffset()
	kind := reiserprim.ClassifySafeLink(it.Head.Key.ObjectID, offset, it.Head.Key.GetType(), uint32(it.Head.Length), c.Cache.BlockSize())
	if kind == reiserprim.SafeLinkNone {
		c.fixable(rfsckerr.KindKeyOutsideDataArea, uint64(blk), "malformed safe-link item", false)
		return
	}
	c.info(rfsckerr.KindSafeLinkPresent, uint64(blk), "safe-link item present")
}
