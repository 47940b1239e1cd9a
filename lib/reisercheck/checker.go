// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reisercheck implements the Checker design component
// (spec.md §4.4): a single top-down walk of the tree that validates
// every node, item, and delimiting key, classifying every
// inconsistency it finds via rfsckerr and, when asked, repairing the
// fixable ones in place.
package reisercheck

import (
	"context"
	"fmt"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/objectid"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rfsckerr"
)

// Checker owns the single consistency-checking pass over an already
// mounted (read) tree. FixFixable controls whether Fixable problems
// are repaired in place as they're found, or merely counted.
type Checker struct {
	Cache       *bufcache.Cache
	RootBlock   bufcache.BlockNum
	TreeHeight  uint16
	BlockCount  uint64
	Reserved    *rbitmap.Bitmap // super, bitmaps, journal
	Hash        namehash.Hash
	FixFixable  bool

	control  *rbitmap.Bitmap // blocks seen this pass
	objects  *objectid.Map
	problems rfsckerr.Problems
}

// Result is what a completed Run reports (spec.md §4.4: "the checker
// reports two counts: fatal_corruptions... and fixable_corruptions").
type Result struct {
	Problems          []rfsckerr.Problem
	FatalCorruptions  int
	FixableCorruptions int
	Fixed             int
}

// Run walks the tree once from the root, per spec.md §4.4 steps 1-6.
func (c *Checker) Run(ctx context.Context) (Result, error) {
	c.control = rbitmap.New(rbitmap.BlockNum(c.BlockCount))
	c.objects = objectid.New()

	if err := c.walk(ctx, c.RootBlock, 1, c.TreeHeight, nil, nil); err != nil {
		return Result{}, err
	}

	if c.FixFixable {
		c.reconcileBitmap()
	}

	return c.result(), nil
}

func (c *Checker) result() Result {
	counts := c.problems.CountBySeverity()
	fixed := 0
	for _, p := range c.problems.All() {
		if p.Repaired {
			fixed++
		}
	}
	return Result{
		Problems:           c.problems.All(),
		FatalCorruptions:   counts[rfsckerr.Fatal],
		FixableCorruptions: counts[rfsckerr.Fixable],
		Fixed:              fixed,
	}
}

// walk implements spec.md §4.4's steps 1-6 for one subtree rooted at
// blk, found at depth (root is depth 1) with delimLo/delimHi being
// the key bounds a legal child of its parent must respect.
func (c *Checker) walk(ctx context.Context, blk bufcache.BlockNum, depth int, treeHeight uint16, delimLo, delimHi *reiserprim.Key) error {
	wantLevel := int(treeHeight) - depth
	if wantLevel < 1 {
		c.fatal(rfsckerr.KindTreeHeightMismatch, uint64(blk), fmt.Sprintf("depth %d exceeds tree_height %d", depth, treeHeight))
		return nil
	}

	if uint64(blk) >= c.BlockCount || c.Reserved.Test(rbitmap.BlockNum(blk)) || c.control.Test(rbitmap.BlockNum(blk)) {
		c.fatal(rfsckerr.KindKeyOutsideDataArea, uint64(blk), "block number out of range, reserved, or already visited")
		return nil
	}
	c.control.Set(rbitmap.BlockNum(blk))

	buf, err := c.Cache.ReadBlock(blk)
	if err != nil {
		return fmt.Errorf("reisercheck: reading block %d: %w", blk, err)
	}

	kind := reisertree.Classify(buf, c.Cache.BlockSize())
	switch kind {
	case reisertree.KindLeaf:
		if wantLevel != reisertree.LeafLevel {
			c.fatal(rfsckerr.KindTreeHeightMismatch, uint64(blk), "leaf found above the expected leaf level")
			return nil
		}
		return c.checkLeaf(ctx, blk, buf, delimLo, delimHi)
	case reisertree.KindInternal:
		return c.checkInternal(ctx, blk, buf, depth, treeHeight, delimLo, delimHi)
	default:
		c.fatal(rfsckerr.KindBlockHeadBroken, uint64(blk), fmt.Sprintf("block head equation broken (classify=%s)", kind))
		return nil
	}
}

func (c *Checker) checkInternal(ctx context.Context, blk bufcache.BlockNum, buf []byte, depth int, treeHeight uint16, delimLo, delimHi *reiserprim.Key) error {
	node := reisertree.UnmarshalInternal(buf)

	for i := 1; i < len(node.Keys); i++ {
		if node.Keys[i-1].Compare(node.Keys[i]) >= 0 {
			c.fatal(rfsckerr.KindKeyOrderViolation, uint64(blk), "internal keys not strictly ascending")
		}
	}

	for i, child := range node.Children {
		childLo, childHi := delimLo, delimHi
		if i > 0 {
			k := node.Keys[i-1]
			childLo = &k
		}
		if i < len(node.Keys) {
			k := node.Keys[i]
			childHi = &k
		}
		if err := c.walk(ctx, child, depth+1, treeHeight, childLo, childHi); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) checkLeaf(ctx context.Context, blk bufcache.BlockNum, buf []byte, delimLo, delimHi *reiserprim.Key) error {
	leaf, err := reisertree.UnmarshalLeaf(buf, c.Cache.BlockSize())
	if err != nil {
		c.fatal(rfsckerr.KindBlockHeadBroken, uint64(blk), err.Error())
		return nil
	}

	if len(leaf.Items) > 0 {
		if delimLo != nil && leaf.Items[0].Head.Key.Compare(*delimLo) < 0 {
			c.fatal(rfsckerr.KindDelimitingKeyViolation, uint64(blk), "first item precedes left delimiter")
		}
		if delimHi != nil && leaf.Items[len(leaf.Items)-1].Head.Key.Compare(*delimHi) >= 0 {
			c.fatal(rfsckerr.KindDelimitingKeyViolation, uint64(blk), "last item reaches or exceeds right delimiter")
		}
	}

	before := len(c.problems.All())
	for i, it := range leaf.Items {
		c.checkItem(blk, it)
		if i > 0 {
			c.checkNeighbors(blk, leaf.Items[i-1], it)
		}
	}

	// checkItem's repairs edit the item bodies of leaf in place;
	// write the repaired leaf back through the cache.
	if c.FixFixable {
		for _, p := range c.problems.All()[before:] {
			if p.Repaired {
				if err := c.Cache.WriteBlock(blk, leaf.Marshal(c.Cache.BlockSize())); err != nil {
					return fmt.Errorf("reisercheck: writing repaired block %d: %w", blk, err)
				}
				break
			}
		}
	}
	return nil
}

func (c *Checker) fatal(k rfsckerr.Kind, block uint64, detail string) {
	c.problems.Add(rfsckerr.New(k, block, detail))
}

func (c *Checker) fixable(k rfsckerr.Kind, block uint64, detail string, repaired bool) {
	p := rfsckerr.New(k, block, detail)
	p.Repaired = repaired
	c.problems.Add(p)
}

func (c *Checker) info(k rfsckerr.Kind, block uint64, detail string) {
	c.problems.Add(rfsckerr.New(k, block, detail))
}

// reconcileBitmap is the end-of-run bitmap step of a FixFixable run.
// It changes nothing: the on-disk free-block bitmap and the
// superblock's free-block counter are left as found, and the
// visited-block bitmap is only available through Control().
func (c *Checker) reconcileBitmap() {
}

// Control returns the bitmap of every block visited during the walk.
// No caller in this module merges it into the on-disk free-block
// bitmap.
func (c *Checker) Control() *rbitmap.Bitmap { return c.control }
