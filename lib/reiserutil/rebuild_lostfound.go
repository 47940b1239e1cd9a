// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"context"
	"fmt"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

const lostFoundName = "lost+found"

// Pass3aLostFound implements spec.md §4.9: unreachable directories
// are linked into /lost+found first (so their own subtrees can be
// walked and marked reachable before sweep two looks for still-
// unreachable regular files).
func (c *Context) Pass3aLostFound(ctx context.Context, builder *TreeBuilder) {
	lfDirID, lfObjID, ok := c.ensureLostFound(builder)
	if !ok {
		return // no root to hang /lost+found off of; nothing to do
	}
	ancestors := make(map[reiserprim.ShortKey]bool)

	for _, orphan := range c.findUnreachable(builder, reiserprim.IsDir) {
		if orphan.dirID == lfDirID && orphan.objID == lfObjID {
			continue
		}
		if c.directoryIsEmpty(builder, orphan.dirID, orphan.objID) {
			continue // spec.md §4.9: "empty lost directories are not linked"
		}
		c.linkIntoLostFound(builder, lfObjID, orphan.dirID, orphan.objID)
		c.walkDirectory(builder, orphan.dirID, orphan.objID, lfObjID, ancestors)
	}

	for _, orphan := range c.findUnreachable(builder, reiserprim.IsReg) {
		c.linkIntoLostFound(builder, lfObjID, orphan.dirID, orphan.objID)
		c.markReachable(builder, statDataKey(orphan.dirID, orphan.objID))
	}
}

type orphan struct{ dirID, objID reiserprim.ObjID }

// findUnreachable collects every stat-data whose item header is still
// unmarked reachable and whose mode matches pred.
func (c *Context) findUnreachable(builder *TreeBuilder, pred func(uint16) bool) []orphan {
	var out []orphan
	builder.Range(func(slot *leafSlot) bool {
		for _, it := range slot.Leaf.Items {
			sd, ok := it.Body.(reisertree.StatData)
			if !ok || it.Head.IsReachable() || !pred(sd.Mode) {
				continue
			}
			out = append(out, orphan{dirID: it.Head.Key.DirID, objID: it.Head.Key.ObjectID})
		}
		return true
	})
	return out
}

func (c *Context) directoryIsEmpty(builder *TreeBuilder, dirID, objID reiserprim.ObjID) bool {
	slot, ok := builder.Find(CanonicalDirKey(dirID, objID))
	if !ok {
		return true
	}
	idx, found := findItemIndex(slot.Leaf, CanonicalDirKey(dirID, objID))
	if !found {
		return true
	}
	dir := slot.Leaf.Items[idx].Body.(reisertree.Directory)
	for _, e := range dir.Entries {
		if e.Visible() && string(e.Name) != "." && string(e.Name) != ".." {
			return false
		}
	}
	return true
}

// linkIntoLostFound adds a "<dirid>_<oid>" entry in /lost+found
// pointing at an orphan's existing (dirID, objID) key — the orphan
// keeps its own identity; only a new name resolves to it.
func (c *Context) linkIntoLostFound(builder *TreeBuilder, lfObjID, orphanDirID, orphanObjID reiserprim.ObjID) {
	name := fmt.Sprintf("%d_%d", uint32(orphanDirID), uint32(orphanObjID))
	e := reisertree.DirEntry{
		Offset:    c.entryOffset(name),
		TargetDir: orphanDirID,
		TargetObj: orphanObjID,
		State:     reisertree.EntryVisible,
		Name:      []byte(name),
	}
	c.insertEntry(builder, CanonicalDirKey(RootObjectID, lfObjID), e, c.Cache.BlockSize())
}

// entryOffset computes the directory-entry offset a freshly
// synthesized entry should carry, under whichever hash pass 0 voted
// the winner.
func (c *Context) entryOffset(name string) uint64 {
	h := namehash.HashR5
	if c.Hash != nil {
		h = c.Hash.Winner()
	}
	return namehash.BuildOffset(namehash.Compute(h, []byte(name)), 0)
}

// ensureLostFound finds /lost+found under the root directory,
// creating it (as a fresh directory object with "."/".." entries and
// a root-linked name) if it isn't already present.
func (c *Context) ensureLostFound(builder *TreeBuilder) (dirID, objID reiserprim.ObjID, ok bool) {
	rootDirKey := CanonicalDirKey(RootDirID, RootObjectID)
	slot, found := builder.Find(rootDirKey)
	if !found {
		return 0, 0, false
	}
	idx, ok2 := findItemIndex(slot.Leaf, rootDirKey)
	if !ok2 {
		return 0, 0, false
	}
	rootDir := slot.Leaf.Items[idx].Body.(reisertree.Directory)
	for _, e := range rootDir.Entries {
		if string(e.Name) == lostFoundName {
			return e.TargetDir, e.TargetObj, true
		}
	}

	newObjID := c.Objects.Allocate()
	blockSize := c.Cache.BlockSize()

	sd := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeDir | 0o755, NLink: 2}
	sdItem := reisertree.Item{Head: reisertree.ItemHeader{Key: statDataKey(RootObjectID, newObjID), Format: reiserprim.FormatV2}, Body: sd}
	c.placeItem(builder, sdItem, blockSize)

	dotEntries := []reisertree.DirEntry{
		{Offset: c.entryOffset("."), TargetDir: RootObjectID, TargetObj: newObjID, State: reisertree.EntryVisible, Name: []byte(".")},
		{Offset: c.entryOffset(".."), TargetDir: RootDirID, TargetObj: RootObjectID, State: reisertree.EntryVisible, Name: []byte("..")},
	}
	dirItem := reisertree.Item{
		Head: reisertree.ItemHeader{Key: CanonicalDirKey(RootObjectID, newObjID), Format: reiserprim.FormatV2, FreeSpaceOrEntryCount: uint16(len(dotEntries))},
		Body: reisertree.Directory{Entries: dotEntries},
	}
	c.placeItem(builder, dirItem, blockSize)

	e := reisertree.DirEntry{
		Offset:    c.entryOffset(lostFoundName),
		TargetDir: RootObjectID,
		TargetObj: newObjID,
		State:     reisertree.EntryVisible,
		Name:      []byte(lostFoundName),
	}
	c.insertEntry(builder, rootDirKey, e, blockSize)

	return RootObjectID, newObjID, true
}
