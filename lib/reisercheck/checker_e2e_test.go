// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisercheck

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
)

// mkE2EDirEntry builds a DirEntry whose Offset is a real name-hash
// (spec.md §4.5), the way a healthy on-disk directory entry has one,
// rather than a zero placeholder.
func mkE2EDirEntry(name string, targetDir, targetObj reiserprim.ObjID) reisertree.DirEntry {
	hash := namehash.Compute(namehash.HashR5, []byte(name))
	return reisertree.DirEntry{
		Offset:    namehash.BuildOffset(hash, 0),
		TargetDir: targetDir,
		TargetObj: targetObj,
		State:     reisertree.EntryVisible,
		Name:      []byte(name),
	}
}

const e2eBlockSize = 4096

func mkE2EKey(dir, obj reiserprim.ObjID, offset uint64, typ reiserprim.ItemType) reiserprim.Key {
	var k reiserprim.Key
	k.DirID = dir
	k.ObjectID = obj
	k.OffsetType = reiserprim.SetTypeAndOffset(reiserprim.FormatV2, offset, typ)
	return k
}

// buildHealthyImage constructs a single-leaf tree holding one
// directory object (object id 10) with two files (object ids 11 and
// 12): a 100-byte regular file stored as a direct tail, and a
// 12 KiB regular file stored as an extent.
func buildHealthyImage(t *testing.T) (*bufcache.Cache, bufcache.BlockNum, uint16, uint64) {
	t.Helper()

	const blockCount = 64
	dev := diskio.NewMemFile[diskio.PAddr]("test", e2eBlockSize*blockCount)
	cache := bufcache.New(dev, e2eBlockSize, blockCount)

	dirSD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeFmt | reiserprim.ModeDir, NLink: 2}
	smallSD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeFmt | reiserprim.ModeReg, NLink: 1, Size: 100}
	bigSD := reisertree.StatData{Format: reiserprim.FormatV2, Mode: reiserprim.ModeFmt | reiserprim.ModeReg, NLink: 1, Size: 12 * 1024}

	direct := reisertree.UnmarshalDirect(reiserprim.FormatV2, make([]byte, 100))
	extent := reisertree.Extent{Pointers: []uint32{20, 21, 22}}

	dir := reisertree.Directory{Entries: []reisertree.DirEntry{
		mkE2EDirEntry(".", 1, 10),
		mkE2EDirEntry("..", 1, 1),
		mkE2EDirEntry("file1", 10, 11),
		mkE2EDirEntry("file2", 10, 12),
	}}

	leaf := reisertree.Leaf{
		Head: reisertree.BlockHeader{Level: reisertree.LeafLevel},
		Items: []reisertree.Item{
			{Head: reisertree.ItemHeader{Key: mkE2EKey(1, 10, 0, reiserprim.TypeStatData), Format: reiserprim.FormatV2}, Body: dirSD},
			{Head: reisertree.ItemHeader{Key: mkE2EKey(1, 10, 0, reiserprim.TypeDirEntry), Format: reiserprim.FormatV2}, Body: dir},
			{Head: reisertree.ItemHeader{Key: mkE2EKey(10, 11, 0, reiserprim.TypeStatData), Format: reiserprim.FormatV2}, Body: smallSD},
			{Head: reisertree.ItemHeader{Key: mkE2EKey(10, 11, 0, reiserprim.TypeDirect), Format: reiserprim.FormatV2}, Body: direct},
			{Head: reisertree.ItemHeader{Key: mkE2EKey(10, 12, 0, reiserprim.TypeStatData), Format: reiserprim.FormatV2}, Body: bigSD},
			{Head: reisertree.ItemHeader{Key: mkE2EKey(10, 12, 0, reiserprim.TypeExtent), Format: reiserprim.FormatV2}, Body: extent},
		},
	}

	buf := leaf.Marshal(e2eBlockSize)
	require.NoError(t, cache.WriteBlock(5, buf))
	require.NoError(t, cache.Flush())

	return cache, bufcache.BlockNum(5), 2, blockCount
}

func TestE1HealthyImage(t *testing.T) {
	cache, root, height, blockCount := buildHealthyImage(t)

	reserved := rbitmap.New(rbitmap.BlockNum(blockCount))
	reserved.SetRange(0, 5) // super/bitmap/journal area precedes the leaf

	c := &Checker{
		Cache:      cache,
		RootBlock:  root,
		TreeHeight: height,
		BlockCount: blockCount,
		Reserved:   reserved,
		Hash:       namehash.HashR5,
	}

	result, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.FatalCorruptions)
	assert.Equal(t, 0, result.FixableCorruptions)
}

func TestE2ExtentPointingAtReservedBlockIsFixable(t *testing.T) {
	cache, root, height, blockCount := buildHealthyImage(t)

	// Corrupt the big file's extent to point at a reserved block.
	buf, err := cache.ReadBlock(root)
	require.NoError(t, err)
	leaf, err := reisertree.UnmarshalLeaf(buf, e2eBlockSize)
	require.NoError(t, err)
	ext := leaf.Items[5].Body.(reisertree.Extent)
	ext.Pointers[0] = 2 // inside the reserved area
	leaf.Items[5].Body = ext
	require.NoError(t, cache.WriteBlock(root, leaf.Marshal(e2eBlockSize)))
	require.NoError(t, cache.Flush())

	reserved := rbitmap.New(rbitmap.BlockNum(blockCount))
	reserved.SetRange(0, 5)

	checkOnly := &Checker{Cache: cache, RootBlock: root, TreeHeight: height, BlockCount: blockCount, Reserved: reserved, Hash: namehash.HashR5}
	result, err := checkOnly.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.FatalCorruptions)
	assert.Equal(t, 1, result.FixableCorruptions)
	assert.Equal(t, 0, result.Fixed)

	fixer := &Checker{Cache: cache, RootBlock: root, TreeHeight: height, BlockCount: blockCount, Reserved: reserved, Hash: namehash.HashR5, FixFixable: true}
	result, err = fixer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Fixed)
}
