// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"context"
	"fmt"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

// Pass4 implements spec.md §4.10's cleanup: drop anything still
// unreachable after pass 3/3a, merge adjacent mergeable items so
// pass 2's item-by-item fragmentation doesn't linger on disk, then
// bulk-write the builder's accumulated leaves as a real tree —
// internal nodes included — and install it as the filesystem's own.
func (c *Context) Pass4(ctx context.Context, builder *TreeBuilder) error {
	c.dropUnreachable(builder)
	c.mergeAdjacentItems(builder)

	root, height, err := c.writeTree(builder)
	if err != nil {
		return err
	}
	c.RootBlock = uint64(root)
	c.TreeHeight = height

	c.Source = c.New
	return c.Cache.Flush()
}

// dropUnreachable deletes every item pass 3/3a never reached.
func (c *Context) dropUnreachable(builder *TreeBuilder) {
	var keys []reiserprim.Key
	builder.Range(func(slot *leafSlot) bool {
		for _, it := range slot.Leaf.Items {
			if it.Head.IsUnreachable() && !it.Head.IsReachable() {
				keys = append(keys, it.Head.Key)
			}
		}
		return true
	})
	for _, k := range keys {
		c.deleteItem(builder, k)
	}
}

// mergeAdjacentItems walks leaves in ascending order, folding any
// leaf's trailing item into the next leaf's leading item when
// ItemsMergeable says they're the same file at contiguous offsets
// (spec.md §4.3/§4.10).
func (c *Context) mergeAdjacentItems(builder *TreeBuilder) {
	var slots []*leafSlot
	builder.Range(func(s *leafSlot) bool {
		slots = append(slots, s)
		return true
	})
	for i := 0; i+1 < len(slots); i++ {
		left, right := slots[i], slots[i+1]
		if left == nil || right == nil || len(left.Leaf.Items) == 0 || len(right.Leaf.Items) == 0 {
			continue
		}
		last := left.Leaf.Items[len(left.Leaf.Items)-1]
		first := right.Leaf.Items[0]
		if !reisertree.ItemsMergeable(last, first) {
			continue
		}
		merged, ok := mergeItemBodies(last, first)
		if !ok {
			continue
		}
		leftLeaf := left.Leaf
		leftLeaf.Items[len(leftLeaf.Items)-1] = merged
		rightLeaf := right.Leaf
		rightLeaf.Items = rightLeaf.Items[1:]

		if next := builder.Replace(left, leftLeaf); next != nil {
			slots[i] = next
		}
		if next := builder.Replace(right, rightLeaf); next != nil {
			slots[i+1] = next
		} else {
			slots[i+1] = nil
		}
	}
}

// mergeItemBodies concatenates two contiguous Extent or Direct
// bodies into one item carrying the left item's key.
func mergeItemBodies(left, right reisertree.Item) (reisertree.Item, bool) {
	switch l := left.Body.(type) {
	case reisertree.Extent:
		r, ok := right.Body.(reisertree.Extent)
		if !ok {
			return reisertree.Item{}, false
		}
		l.Pointers = append(l.Pointers, r.Pointers...)
		left.Body = l
		return left, true
	case reisertree.Direct:
		r, ok := right.Body.(reisertree.Direct)
		if !ok {
			return reisertree.Item{}, false
		}
		l.Data = append(l.Data, r.Data...)
		left.Body = l
		return left, true
	default:
		return reisertree.Item{}, false
	}
}

// writeTree bulk-writes every leaf the builder accumulated, then
// builds internal levels bottom-up over them, one level at a time,
// until a single root remains (spec.md §4.10's "write the rebuilt
// tree to disk").
func (c *Context) writeTree(builder *TreeBuilder) (bufcache.BlockNum, uint16, error) {
	blockSize := c.Cache.BlockSize()

	var level []levelEntry
	builder.Range(func(slot *leafSlot) bool {
		buf := slot.Leaf.Marshal(blockSize)
		if err := c.Cache.WriteBlock(slot.Block, buf); err != nil {
			return true
		}
		level = append(level, levelEntry{delimKey: slot.minKey(), block: slot.Block})
		return true
	})

	if len(level) == 0 {
		blk, ok := c.Allocable.FirstClear(0)
		if !ok {
			return 0, 0, fmt.Errorf("reiserutil: writeTree: device has no free block for an empty root")
		}
		c.Allocable.Set(blk)
		c.New.Set(blk)
		empty := reisertree.Leaf{Head: reisertree.BlockHeader{Level: reisertree.LeafLevel}}
		if err := c.Cache.WriteBlock(bufcache.BlockNum(blk), empty.Marshal(blockSize)); err != nil {
			return 0, 0, err
		}
		return bufcache.BlockNum(blk), 2, nil
	}

	height := uint16(1)
	for len(level) > 1 {
		height++
		var next []levelEntry
		const fanout = 64 // conservative; real capacity is checked via InternalValid on read-back
		for i := 0; i < len(level); i += fanout {
			end := i + fanout
			if end > len(level) {
				end = len(level)
			}
			chunk := level[i:end]
			node := reisertree.Internal{Head: reisertree.BlockHeader{Level: height}}
			for j, e := range chunk {
				node.Children = append(node.Children, e.block)
				if j > 0 {
					node.Keys = append(node.Keys, e.delimKey)
				}
			}
			node.Head.NumItems = uint16(len(node.Keys))

			blk, ok := c.Allocable.FirstClear(0)
			if !ok {
				return 0, 0, fmt.Errorf("reiserutil: writeTree: device has no free block for an internal node")
			}
			c.Allocable.Set(blk)
			c.New.Set(blk)

			if err := c.Cache.WriteBlock(bufcache.BlockNum(blk), node.Marshal(blockSize)); err != nil {
				return 0, 0, err
			}
			next = append(next, levelEntry{delimKey: chunk[0].delimKey, block: bufcache.BlockNum(blk)})
		}
		level = next
	}

	// tree_height counts one more than the root's level: a lone leaf
	// root (level 1) is a tree of height 2, as pass 1 and the checker
	// count it.
	return level[0].block, height + 1, nil
}

type levelEntry struct {
	delimKey reiserprim.Key
	block    bufcache.BlockNum
}
