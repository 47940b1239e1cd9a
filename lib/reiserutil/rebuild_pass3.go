// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"context"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

// Root directory identity, per ReiserFS convention: the root
// directory's own object id is 2, parented by the reserved id 1
// (which has no stat-data of its own).
const (
	RootDirID    = reiserprim.ObjID(1)
	RootObjectID = reiserprim.ObjID(2)
)

// Pass3Semantic implements spec.md §4.8: a directory DFS from the
// root that fixes "."/".." targets, recomputes regular-file and
// directory stat-data from their actual contents, and marks every
// reached item header reachable. check_safe_links then sweeps the
// dir_id=~0 range of the rebuilt tree.
func (c *Context) Pass3Semantic(ctx context.Context, builder *TreeBuilder) {
	c.markAllUnreachable(builder)

	ancestors := make(map[reiserprim.ShortKey]bool)
	c.walkDirectory(builder, RootDirID, RootObjectID, RootDirID, ancestors)

	c.checkSafeLinks(builder)
}

func (c *Context) markAllUnreachable(builder *TreeBuilder) {
	builder.Range(func(slot *leafSlot) bool {
		changed := false
		for i := range slot.Leaf.Items {
			if slot.Leaf.Items[i].Head.Flags&reisertree.FlagReachable != 0 {
				slot.Leaf.Items[i].Head.Flags &^= reisertree.FlagReachable
				changed = true
			}
			slot.Leaf.Items[i].Head.Flags |= reisertree.FlagUnreachable
		}
		if changed {
			builder.Replace(slot, slot.Leaf)
		}
		return true
	})
}

// walkDirectory recurses into the directory identified by (dirID,
// objID) — whose stat-data key is (dirID, objID) — and returns the
// byte size and block count its own entries imply, for the caller to
// reconcile against its stat-data.
func (c *Context) walkDirectory(builder *TreeBuilder, dirID, objID, parentObjID reiserprim.ObjID, ancestors map[reiserprim.ShortKey]bool) (size uint64, blocks uint32) {
	self := reiserprim.ShortKey{DirID: dirID, ObjectID: objID}
	if ancestors[self] {
		return 0, 0 // already on the path; caller already dropped the edge that got here
	}
	ancestors[self] = true
	defer delete(ancestors, self)

	c.markReachable(builder, statDataKey(dirID, objID))

	canonical := CanonicalDirKey(dirID, objID)
	slot, ok := builder.Find(canonical)
	if !ok {
		return 0, 0
	}
	c.markReachable(builder, canonical)

	idx, found := findItemIndex(slot.Leaf, canonical)
	if !found {
		return 0, 0
	}
	dir := slot.Leaf.Items[idx].Body.(reisertree.Directory)

	kept := dir.Entries[:0:0]
	for _, e := range dir.Entries {
		if !e.Visible() {
			continue
		}
		switch string(e.Name) {
		case ".":
			e.TargetDir, e.TargetObj = dirID, objID
		case "..":
			e.TargetDir, e.TargetObj = RootDirID, parentObjID
		default:
			child := reiserprim.ShortKey{DirID: e.TargetDir, ObjectID: e.TargetObj}
			if ancestors[child] {
				continue // parent-dir loop: drop the entry (spec.md §4.8)
			}
			c.reconcileChild(builder, e.TargetDir, e.TargetObj, dirID, ancestors)
		}
		kept = append(kept, e)
		size += uint64(len(e.Name))
	}
	if len(kept) != len(dir.Entries) {
		dir.Entries = kept
		slot.Leaf.Items[idx].Body = dir
		slot.Leaf.Items[idx].Head.FreeSpaceOrEntryCount = uint16(len(kept))
		builder.Replace(slot, slot.Leaf)
	}

	c.reconcileStatData(builder, dirID, objID, size, 1)
	return size, 1
}

// reconcileChild looks up a directory entry's target stat-data and
// either recurses (directory) or recomputes its file-body size
// (regular file), fixing drift against the stat-data it finds.
func (c *Context) reconcileChild(builder *TreeBuilder, dirID, objID, parentObjID reiserprim.ObjID, ancestors map[reiserprim.ShortKey]bool) {
	key := statDataKey(dirID, objID)
	slot, ok := builder.Find(key)
	if !ok {
		return // dangling entry; pass 3a's lost+found pass handles true orphans, not dangling names
	}
	idx, found := findItemIndex(slot.Leaf, key)
	if !found {
		return
	}
	sd, ok := slot.Leaf.Items[idx].Body.(reisertree.StatData)
	if !ok {
		return
	}
	c.markReachable(builder, key)

	switch {
	case reiserprim.IsDir(sd.Mode):
		size, blocks := c.walkDirectory(builder, dirID, objID, parentObjID, ancestors)
		c.reconcileStatData(builder, dirID, objID, size, blocks)
	case reiserprim.IsReg(sd.Mode):
		size, blocks := c.fileItemsActualSizeBlocks(builder, dirID, objID)
		c.reconcileStatData(builder, dirID, objID, size, blocks)
	}
}

// fileItemsActualSizeBlocks implements are_file_items_correct
// (spec.md §4.8): re-walk every Extent/Direct item of (dirID,objID)
// and return the size and block count they actually imply.
func (c *Context) fileItemsActualSizeBlocks(builder *TreeBuilder, dirID, objID reiserprim.ObjID) (size uint64, blocks uint32) {
	builder.Range(func(slot *leafSlot) bool {
		for _, it := range slot.Leaf.Items {
			if it.Head.Key.DirID != dirID || it.Head.Key.ObjectID != objID {
				continue
			}
			switch body := it.Body.(type) {
			case reisertree.Extent:
				end := it.Head.Key.GetOffset() + uint64(len(body.Pointers))*uint64(c.Cache.BlockSize())
				if end > size {
					size = end
				}
			case reisertree.Direct:
				end := it.Head.Key.GetOffset() + uint64(len(body.Data))
				if end > size {
					size = end
				}
			}
		}
		return true
	})
	blocks = uint32((size + uint64(c.Cache.BlockSize()) - 1) / uint64(c.Cache.BlockSize()))
	return size, blocks
}

// reconcileStatData fixes sd_size/sd_blocks drift in place (spec.md
// §4.8's stat-data repair).
func (c *Context) reconcileStatData(builder *TreeBuilder, dirID, objID reiserprim.ObjID, size uint64, blocks uint32) {
	key := statDataKey(dirID, objID)
	slot, ok := builder.Find(key)
	if !ok {
		return
	}
	idx, found := findItemIndex(slot.Leaf, key)
	if !found {
		return
	}
	sd, ok := slot.Leaf.Items[idx].Body.(reisertree.StatData)
	if !ok {
		return
	}
	if sd.Size == size && sd.Blocks == blocks {
		return
	}
	sd.Size, sd.Blocks = size, blocks
	slot.Leaf.Items[idx].Body = sd
	builder.Replace(slot, slot.Leaf)
}

func (c *Context) markReachable(builder *TreeBuilder, key reiserprim.Key) {
	slot, ok := builder.Find(key)
	if !ok {
		return
	}
	idx, found := findItemIndex(slot.Leaf, key)
	if !found {
		return
	}
	h := &slot.Leaf.Items[idx].Head
	h.Flags |= reisertree.FlagReachable
	h.Flags &^= reisertree.FlagUnreachable
	builder.Replace(slot, slot.Leaf)
}

// checkSafeLinks implements spec.md §4.8's final step: truncate links
// whose target is a directory (truncation is only valid on regular
// files) or whose target stat-data is missing are deleted.
func (c *Context) checkSafeLinks(builder *TreeBuilder) {
	var toDelete []reiserprim.Key
	builder.Range(func(slot *leafSlot) bool {
		for _, it := range slot.Leaf.Items {
			if it.Head.Key.DirID != reiserprim.SafeLinkDirID {
				continue
			}
			sl := reiserprim.ClassifySafeLink(it.Head.Key.ObjectID, it.Head.Key.GetOffset(), it.Head.Key.GetType(), uint32(it.Head.Length), c.Cache.BlockSize())
			if sl == reiserprim.SafeLinkNone {
				toDelete = append(toDelete, it.Head.Key)
				continue
			}
			targetKey := statDataKey(RootDirID, it.Head.Key.ObjectID)
			tslot, ok := builder.Find(targetKey)
			if !ok {
				toDelete = append(toDelete, it.Head.Key)
				continue
			}
			tidx, found := findItemIndex(tslot.Leaf, targetKey)
			if !found {
				toDelete = append(toDelete, it.Head.Key)
				continue
			}
			sd := tslot.Leaf.Items[tidx].Body.(reisertree.StatData)
			if sl == reiserprim.SafeLinkTruncate && reiserprim.IsDir(sd.Mode) {
				toDelete = append(toDelete, it.Head.Key)
			}
		}
		return true
	})
	for _, k := range toDelete {
		c.deleteItem(builder, k)
	}
}

func statDataKey(dirID, objID reiserprim.ObjID) reiserprim.Key {
	var k reiserprim.Key
	k.DirID = dirID
	k.ObjectID = objID
	k.OffsetType = reiserprim.SetTypeAndOffset(reiserprim.FormatV2, 0, reiserprim.TypeStatData)
	return k
}

func findItemIndex(leaf reisertree.Leaf, k reiserprim.Key) (int, bool) {
	for i, it := range leaf.Items {
		if it.Head.Key.Compare(k) == 0 {
			return i, true
		}
	}
	return 0, false
}

// deleteItem removes the item with key k from wherever it lives in
// the builder.
func (c *Context) deleteItem(builder *TreeBuilder, k reiserprim.Key) {
	slot, ok := builder.Find(k)
	if !ok {
		return
	}
	leaf := slot.Leaf
	_ = leaf.DeleteItem(k)
	if len(leaf.Items) == 0 {
		builder.Delete(slot)
		return
	}
	builder.Replace(slot, leaf)
}
