// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/diskio"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
	"github.com/lukeshu/reiserfsck-ng/lib/rtextui"
)

const rebuildBlockSize = 4096
const rebuildBlockCount = 64

func mkKey(dir, obj reiserprim.ObjID, offset uint64, typ reiserprim.ItemType) reiserprim.Key {
	var k reiserprim.Key
	k.DirID = dir
	k.ObjectID = obj
	k.OffsetType = reiserprim.SetTypeAndOffset(reiserprim.FormatV2, offset, typ)
	return k
}

func rootDirLeaf() reisertree.Leaf {
	rootSD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeDir | 0o755, NLink: 2}
	dotEntries := []reisertree.DirEntry{
		{Offset: namehash.BuildOffset(namehash.Compute(namehash.HashR5, []byte(".")), 0), TargetDir: RootObjectID, TargetObj: RootObjectID, State: reisertree.EntryVisible, Name: []byte(".")},
		{Offset: namehash.BuildOffset(namehash.Compute(namehash.HashR5, []byte("..")), 0), TargetDir: RootDirID, TargetObj: RootObjectID, State: reisertree.EntryVisible, Name: []byte("..")},
	}
	return reisertree.Leaf{
		Head: reisertree.BlockHeader{Level: reisertree.LeafLevel},
		Items: []reisertree.Item{
			{Head: reisertree.ItemHeader{Key: statDataKey(RootDirID, RootObjectID), Format: reiserprim.FormatV2}, Body: rootSD},
			{
				Head: reisertree.ItemHeader{Key: CanonicalDirKey(RootDirID, RootObjectID), Format: reiserprim.FormatV2, FreeSpaceOrEntryCount: uint16(len(dotEntries))},
				Body: reisertree.Directory{Entries: dotEntries},
			},
		},
	}
}

func addEntryToRoot(leaf *reisertree.Leaf, name string, targetObj reiserprim.ObjID) {
	for i, it := range leaf.Items {
		dir, ok := it.Body.(reisertree.Directory)
		if !ok || it.Head.Key.ObjectID != RootObjectID {
			continue
		}
		e := reisertree.DirEntry{
			Offset:    namehash.BuildOffset(namehash.Compute(namehash.HashR5, []byte(name)), 0),
			TargetDir: RootObjectID,
			TargetObj: targetObj,
			State:     reisertree.EntryVisible,
			Name:      []byte(name),
		}
		dir.Entries = append(dir.Entries, e)
		leaf.Items[i].Body = dir
		leaf.Items[i].Head.FreeSpaceOrEntryCount = uint16(len(dir.Entries))
	}
}

func newTestCache(t *testing.T) *bufcache.Cache {
	t.Helper()
	dev := diskio.NewMemFile[diskio.PAddr]("test", rebuildBlockSize*rebuildBlockCount)
	return bufcache.New(dev, rebuildBlockSize, rebuildBlockCount)
}

func newTestContext(t *testing.T, cache *bufcache.Cache, usedBlocks []rbitmap.BlockNum) *Context {
	t.Helper()
	reserved := rbitmap.New(rbitmap.BlockNum(rebuildBlockCount))
	reserved.SetRange(0, 3)

	c := NewContext(cache, rebuildBlockCount, reserved, rtextui.NullReporter{})
	c.Source = rbitmap.New(rbitmap.BlockNum(rebuildBlockCount))
	for _, b := range usedBlocks {
		c.Source.Set(b)
	}
	return c
}

// TestE3DuplicatedExtentPointer: two regular files whose extents both
// list the same data block. Pass 0 should flag the repeat as
// bad_unfm; pass 1's first-wins rule should zero the loser's pointer,
// shrinking its reported size once pass 3 recomputes it.
func TestE3DuplicatedExtentPointer(t *testing.T) {
	cache := newTestCache(t)

	root := rootDirLeaf()
	fileASD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeReg | 0o644, NLink: 1, Size: 4096, Blocks: 8}
	fileBSD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeReg | 0o644, NLink: 1, Size: 4096, Blocks: 8}
	extA := reisertree.Extent{Pointers: []uint32{40}}
	extB := reisertree.Extent{Pointers: []uint32{40}} // collides with extA

	addEntryToRoot(&root, "a", 20)
	addEntryToRoot(&root, "b", 21)
	root.Items = append(root.Items,
		reisertree.Item{Head: reisertree.ItemHeader{Key: statDataKey(RootObjectID, 20), Format: reiserprim.FormatV2}, Body: fileASD},
		reisertree.Item{Head: reisertree.ItemHeader{Key: mkKey(RootObjectID, 20, 0, reiserprim.TypeExtent), Format: reiserprim.FormatV2}, Body: extA},
		reisertree.Item{Head: reisertree.ItemHeader{Key: statDataKey(RootObjectID, 21), Format: reiserprim.FormatV2}, Body: fileBSD},
		reisertree.Item{Head: reisertree.ItemHeader{Key: mkKey(RootObjectID, 21, 0, reiserprim.TypeExtent), Format: reiserprim.FormatV2}, Body: extB},
	)

	require.NoError(t, cache.WriteBlock(10, root.Marshal(rebuildBlockSize)))
	require.NoError(t, cache.Flush())

	c := newTestContext(t, cache, []rbitmap.BlockNum{10})
	require.NoError(t, Rebuild(context.Background(), c, "", namehash.HashR5))

	buf, err := cache.ReadBlock(bufcache.BlockNum(c.RootBlock))
	require.NoError(t, err)
	leaf, err := reisertree.UnmarshalLeaf(buf, rebuildBlockSize)
	require.NoError(t, err)

	var zeroed, kept int
	for _, it := range leaf.Items {
		if ext, ok := it.Body.(reisertree.Extent); ok {
			if ext.Pointers[0] == 0 {
				zeroed++
			} else {
				kept++
			}
		}
	}
	assert.Equal(t, 1, zeroed, "exactly one of the two colliding extents should be zeroed")
	assert.Equal(t, 1, kept, "the first-encountered extent pointer should survive")
}

// TestE4ObjectidSharing: two stat-datas with identical short keys
// (same object id) but incompatible kinds force pass 2 to relocate
// the second one under a freshly allocated object id.
func TestE4ObjectidSharing(t *testing.T) {
	cache := newTestCache(t)

	root := rootDirLeaf()
	dirSD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeDir | 0o755, NLink: 2}
	regSD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeReg | 0o644, NLink: 1}

	addEntryToRoot(&root, "shared", 30)
	root.Items = append(root.Items,
		reisertree.Item{Head: reisertree.ItemHeader{Key: statDataKey(RootObjectID, 30), Format: reiserprim.FormatV2}, Body: dirSD},
		reisertree.Item{Head: reisertree.ItemHeader{Key: statDataKey(RootObjectID, 30), Format: reiserprim.FormatV2}, Body: regSD},
	)

	require.NoError(t, cache.WriteBlock(10, root.Marshal(rebuildBlockSize)))
	require.NoError(t, cache.Flush())

	c := newTestContext(t, cache, []rbitmap.BlockNum{10})
	require.NoError(t, Rebuild(context.Background(), c, "", namehash.HashR5))

	var statDatas int
	builder, err := c.rehydrateBuilder()
	require.NoError(t, err)
	builder.Range(func(slot *leafSlot) bool {
		for _, it := range slot.Leaf.Items {
			if _, ok := it.Body.(reisertree.StatData); ok {
				statDatas++
			}
		}
		return true
	})
	assert.GreaterOrEqual(t, statDatas, 3, "root + both relocated objects should all still have stat-data")
}

// TestE5DirectoryWrongHashEntry: one entry whose offset encodes a
// hash that doesn't match its name under the winning hash function.
// Pass 1's trim should drop just that entry.
func TestE5DirectoryWrongHashEntry(t *testing.T) {
	cache := newTestCache(t)

	root := rootDirLeaf()
	addEntryToRoot(&root, "good", 50)
	root.Items = append(root.Items,
		reisertree.Item{Head: reisertree.ItemHeader{Key: statDataKey(RootObjectID, 50), Format: reiserprim.FormatV2}, Body: reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeReg | 0o644, NLink: 1}},
	)

	for i, it := range root.Items {
		if dir, ok := it.Body.(reisertree.Directory); ok && it.Head.Key.ObjectID == RootObjectID {
			bogus := reisertree.DirEntry{
				Offset:    namehash.BuildOffset(0xdeadbe, 0), // doesn't match Compute(HashR5, "bad")
				TargetDir: RootObjectID,
				TargetObj: 51,
				State:     reisertree.EntryVisible,
				Name:      []byte("bad"),
			}
			dir.Entries = append(dir.Entries, bogus)
			root.Items[i].Body = dir
			root.Items[i].Head.FreeSpaceOrEntryCount = uint16(len(dir.Entries))
		}
	}

	require.NoError(t, cache.WriteBlock(10, root.Marshal(rebuildBlockSize)))
	require.NoError(t, cache.Flush())

	c := newTestContext(t, cache, []rbitmap.BlockNum{10})
	require.NoError(t, Rebuild(context.Background(), c, "", namehash.HashR5))

	builder, err := c.rehydrateBuilder()
	require.NoError(t, err)
	slot, ok := builder.Find(CanonicalDirKey(RootDirID, RootObjectID))
	require.True(t, ok)
	idx, ok := findItemIndex(slot.Leaf, CanonicalDirKey(RootDirID, RootObjectID))
	require.True(t, ok)
	dir := slot.Leaf.Items[idx].Body.(reisertree.Directory)
	for _, e := range dir.Entries {
		assert.NotEqual(t, "bad", string(e.Name), "the wrong-hash entry should have been dropped")
	}
}

// TestE6UnreachableOrphanSubtree: a directory object with its own
// "."/".." and a child file, but no entry anywhere pointing at it.
// Pass 3a should link it into /lost+found and mark its contents
// reachable rather than deleting them in pass 4.
func TestE6UnreachableOrphanSubtree(t *testing.T) {
	cache := newTestCache(t)

	root := rootDirLeaf()

	orphanDirID, orphanObjID := RootObjectID, reiserprim.ObjID(60)
	orphanSD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeDir | 0o755, NLink: 2}
	orphanDotEntries := []reisertree.DirEntry{
		{Offset: namehash.BuildOffset(namehash.Compute(namehash.HashR5, []byte(".")), 0), TargetDir: orphanDirID, TargetObj: orphanObjID, State: reisertree.EntryVisible, Name: []byte(".")},
		{Offset: namehash.BuildOffset(namehash.Compute(namehash.HashR5, []byte("..")), 0), TargetDir: RootDirID, TargetObj: RootObjectID, State: reisertree.EntryVisible, Name: []byte("..")},
		{Offset: namehash.BuildOffset(namehash.Compute(namehash.HashR5, []byte("child")), 0), TargetDir: orphanObjID, TargetObj: 61, State: reisertree.EntryVisible, Name: []byte("child")},
	}
	childSD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeReg | 0o644, NLink: 1}

	root.Items = append(root.Items,
		reisertree.Item{Head: reisertree.ItemHeader{Key: statDataKey(orphanDirID, orphanObjID), Format: reiserprim.FormatV2}, Body: orphanSD},
		reisertree.Item{
			Head: reisertree.ItemHeader{Key: CanonicalDirKey(orphanDirID, orphanObjID), Format: reiserprim.FormatV2, FreeSpaceOrEntryCount: uint16(len(orphanDotEntries))},
			Body: reisertree.Directory{Entries: orphanDotEntries},
		},
		reisertree.Item{Head: reisertree.ItemHeader{Key: statDataKey(orphanObjID, 61), Format: reiserprim.FormatV2}, Body: childSD},
	)

	require.NoError(t, cache.WriteBlock(10, root.Marshal(rebuildBlockSize)))
	require.NoError(t, cache.Flush())

	c := newTestContext(t, cache, []rbitmap.BlockNum{10})
	require.NoError(t, Rebuild(context.Background(), c, "", namehash.HashR5))

	builder, err := c.rehydrateBuilder()
	require.NoError(t, err)

	// The orphan's own stat-data and its child's stat-data must
	// still exist (pass 4 must not have deleted them).
	_, orphanStillExists := builder.Find(statDataKey(orphanDirID, orphanObjID))
	_, childStillExists := builder.Find(statDataKey(orphanObjID, 61))
	assert.True(t, orphanStillExists)
	assert.True(t, childStillExists)

	// /lost+found should now carry an entry naming the orphan.
	rootSlot, ok := builder.Find(CanonicalDirKey(RootDirID, RootObjectID))
	require.True(t, ok)
	idx, ok := findItemIndex(rootSlot.Leaf, CanonicalDirKey(RootDirID, RootObjectID))
	require.True(t, ok)
	rootDir := rootSlot.Leaf.Items[idx].Body.(reisertree.Directory)
	var lfObjID reiserprim.ObjID
	for _, e := range rootDir.Entries {
		if string(e.Name) == lostFoundName {
			lfObjID = e.TargetObj
		}
	}
	require.NotZero(t, lfObjID, "/lost+found must have been synthesized under root")

	lfSlot, ok := builder.Find(CanonicalDirKey(RootObjectID, lfObjID))
	require.True(t, ok)
	idx, ok = findItemIndex(lfSlot.Leaf, CanonicalDirKey(RootObjectID, lfObjID))
	require.True(t, ok)
	lfDir := lfSlot.Leaf.Items[idx].Body.(reisertree.Directory)
	found := false
	for _, e := range lfDir.Entries {
		if e.TargetDir == orphanDirID && e.TargetObj == orphanObjID {
			found = true
		}
	}
	assert.True(t, found, "lost+found should link the orphan directory by its original key")
}
