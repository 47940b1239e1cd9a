// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rcontainers"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

// leafSlot is one leaf of the tree under construction: either an
// original on-disk block kept in place ("grafted", pass 1) or a
// block synthesized from individually-inserted items (pass 2).
type leafSlot struct {
	Block   bufcache.BlockNum
	Grafted bool
	Leaf    reisertree.Leaf
}

func (s *leafSlot) minKey() reiserprim.Key { return s.Leaf.Items[0].Head.Key }
func (s *leafSlot) maxKey() reiserprim.Key { return s.Leaf.Items[len(s.Leaf.Items)-1].Head.Key }

// TreeBuilder accumulates the leaves of the tree being rebuilt,
// keyed by the key-range they cover, ahead of pass 4's bulk write of
// real internal nodes over them (spec.md §4.6/4.7's "ask TreeOps
// whether the leaf can be spliced in as a whole" is, concretely,
// "does its key range not overlap any leaf already accepted").
type TreeBuilder struct {
	spans rcontainers.IntervalTree[reiserprim.Key, *leafSlot]
}

func (b *TreeBuilder) init() {
	if b.spans.MinFn == nil {
		b.spans.MinFn = (*leafSlot).minKey
		b.spans.MaxFn = (*leafSlot).maxKey
	}
}

// Overlaps reports whether [lo,hi] intersects any leaf already
// accepted into the builder.
func (b *TreeBuilder) Overlaps(lo, hi reiserprim.Key) bool {
	b.init()
	if _, ok := b.spans.Lookup(lo); ok {
		return true
	}
	if _, ok := b.spans.Lookup(hi); ok {
		return true
	}
	contained := b.spans.SearchAll(func(k reiserprim.Key) int {
		switch {
		case k.Cmp(lo) < 0:
			return -1
		case k.Cmp(hi) > 0:
			return 1
		default:
			return 0
		}
	})
	return len(contained) > 0
}

// TryGraftLeaf attempts to splice a whole on-disk leaf block into the
// tree unmodified. It fails only if the leaf's key range collides
// with one already present.
func (b *TreeBuilder) TryGraftLeaf(blk bufcache.BlockNum, leaf reisertree.Leaf) bool {
	if len(leaf.Items) == 0 {
		return true // nothing to place; trivially accepted
	}
	b.init()
	slot := &leafSlot{Block: blk, Grafted: true, Leaf: leaf}
	if b.Overlaps(slot.minKey(), slot.maxKey()) {
		return false
	}
	b.spans.Insert(slot)
	return true
}

// Find returns the leaf slot whose key range contains k, if any.
func (b *TreeBuilder) Find(k reiserprim.Key) (*leafSlot, bool) {
	b.init()
	return b.spans.Lookup(k)
}

// FindOrNearestLeft returns the slot containing k, or failing that,
// the slot with the greatest key range below k (item-by-item
// insertion lands in whichever leaf logically precedes the new key).
func (b *TreeBuilder) FindOrNearestLeft(k reiserprim.Key) (*leafSlot, bool) {
	if slot, ok := b.Find(k); ok {
		return slot, true
	}
	var best *leafSlot
	b.Range(func(s *leafSlot) bool {
		if s.maxKey().Cmp(k) < 0 {
			best = s
		}
		return true
	})
	return best, best != nil
}

// Replace swaps out the slot at blk's former span for a new, possibly
// resized, leaf (used when pass 2 pastes an item into an existing
// synthesized leaf). A newLeaf with no items removes the slot
// entirely.
func (b *TreeBuilder) Replace(old *leafSlot, newLeaf reisertree.Leaf) *leafSlot {
	b.init()
	b.spans.Delete(old.minKey(), old.maxKey())
	if len(newLeaf.Items) == 0 {
		return nil
	}
	next := &leafSlot{Block: old.Block, Grafted: false, Leaf: newLeaf}
	b.spans.Insert(next)
	return next
}

// Delete removes a slot entirely.
func (b *TreeBuilder) Delete(slot *leafSlot) {
	b.init()
	b.spans.Delete(slot.minKey(), slot.maxKey())
}

// Insert adds a brand-new synthesized leaf (e.g. for a key range with
// no prior coverage).
func (b *TreeBuilder) Insert(blk bufcache.BlockNum, leaf reisertree.Leaf) {
	b.init()
	b.spans.Insert(&leafSlot{Block: blk, Grafted: false, Leaf: leaf})
}

// Range visits every accepted leaf slot in ascending key order.
func (b *TreeBuilder) Range(fn func(*leafSlot) bool) {
	b.init()
	b.spans.Range(fn)
}

// Len is the number of leaves accepted so far.
func (b *TreeBuilder) Len() int { return b.spans.Len() }
