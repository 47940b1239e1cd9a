// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

const testBlockSize = 4096

func mkKey(dir, obj reiserprim.ObjID, offset uint64, typ reiserprim.ItemType) reiserprim.Key {
	var k reiserprim.Key
	k.DirID = dir
	k.ObjectID = obj
	k.OffsetType = reiserprim.SetTypeAndOffset(reiserprim.FormatV2, offset, typ)
	return k
}

func TestLeafMarshalRoundTrip(t *testing.T) {
	sd := StatData{Format: reiserprim.FormatV2, Mode: 0o100644, NLink: 1, Size: 12}
	direct := UnmarshalDirect(reiserprim.FormatV2, []byte("hello world!"))

	leaf := Leaf{
		Head: BlockHeader{Level: LeafLevel},
		Items: []Item{
			{Head: ItemHeader{Key: mkKey(1, 10, 0, reiserprim.TypeStatData), Format: reiserprim.FormatV2}, Body: sd},
			{Head: ItemHeader{Key: mkKey(1, 10, 0, reiserprim.TypeDirect), Format: reiserprim.FormatV2}, Body: direct},
		},
	}

	buf := leaf.Marshal(testBlockSize)
	require.True(t, LeafValid(buf, testBlockSize))
	require.Equal(t, KindLeaf, Classify(buf, testBlockSize))

	got, err := UnmarshalLeaf(buf, testBlockSize)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)

	gotSD, ok := got.Items[0].Body.(StatData)
	require.True(t, ok)
	assert.Equal(t, sd.Mode, gotSD.Mode)
	assert.Equal(t, sd.Size, gotSD.Size)

	gotDirect, ok := got.Items[1].Body.(Direct)
	require.True(t, ok)
	assert.Equal(t, "hello world!", string(gotDirect.Data))
}

func TestClassifyRejectsTruncatedHeader(t *testing.T) {
	assert.Equal(t, KindUnknown, Classify([]byte{1, 2, 3}, testBlockSize))
}

func TestClassifyItemArrayOnlyWhenHeaderCorrupt(t *testing.T) {
	sd := StatData{Format: reiserprim.FormatV2, Mode: 0o100644, NLink: 1}
	leaf := Leaf{
		Head:  BlockHeader{Level: LeafLevel},
		Items: []Item{{Head: ItemHeader{Key: mkKey(1, 10, 0, reiserprim.TypeStatData), Format: reiserprim.FormatV2}, Body: sd}},
	}
	buf := leaf.Marshal(testBlockSize)

	// Corrupt the block-level FreeSpace field but leave the item
	// header array internally consistent.
	buf[4] ^= 0xFF

	assert.Equal(t, KindItemArrayOnly, Classify(buf, testBlockSize))
}

func TestDirectoryMarshalRoundTrip(t *testing.T) {
	dir := Directory{Entries: []DirEntry{
		{Offset: 100, TargetDir: 1, TargetObj: 20, Name: []byte("alpha")},
		{Offset: 50, TargetDir: 1, TargetObj: 21, Name: []byte("beta")},
	}}
	buf := dir.Marshal()

	locs := make([]uint16, len(dir.Entries))
	end := len(buf)
	for i, e := range dir.Entries {
		locs[i] = uint16(end - len(e.Name))
		end = int(locs[i])
	}
	for i := range dir.Entries {
		dir.Entries[i].Location = locs[i]
	}
	buf = dir.Marshal()

	got, err := UnmarshalDirectory(buf, len(dir.Entries))
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "alpha", string(got.Entries[0].Name))
	assert.Equal(t, "beta", string(got.Entries[1].Name))
}

func TestInsertDeleteItem(t *testing.T) {
	leaf := Leaf{Head: BlockHeader{Level: LeafLevel}}
	k1 := mkKey(1, 10, 0, reiserprim.TypeStatData)
	k2 := mkKey(1, 11, 0, reiserprim.TypeStatData)

	require.NoError(t, leaf.InsertItem(Item{Head: ItemHeader{Key: k2, Format: reiserprim.FormatV2}, Body: StatData{Format: reiserprim.FormatV2}}, testBlockSize))
	require.NoError(t, leaf.InsertItem(Item{Head: ItemHeader{Key: k1, Format: reiserprim.FormatV2}, Body: StatData{Format: reiserprim.FormatV2}}, testBlockSize))

	require.Len(t, leaf.Items, 2)
	assert.True(t, leaf.Items[0].Head.Key.Compare(k1) == 0, "items must be kept in sorted order")

	require.NoError(t, leaf.DeleteItem(k1))
	require.Len(t, leaf.Items, 1)
	assert.Equal(t, 0, leaf.Items[0].Head.Key.Compare(k2))
}

func TestPasteAndCutDirect(t *testing.T) {
	leaf := Leaf{Head: BlockHeader{Level: LeafLevel}}
	k := mkKey(1, 10, 0, reiserprim.TypeDirect)
	body := UnmarshalDirect(reiserprim.FormatV2, []byte("abcdef"))
	require.NoError(t, leaf.InsertItem(Item{Head: ItemHeader{Key: k, Format: reiserprim.FormatV2}, Body: body}, testBlockSize))

	require.NoError(t, leaf.Paste(k, 3, []byte("XYZ"), testBlockSize))
	d := leaf.Items[0].Body.(Direct)
	assert.Equal(t, "abcXYZdef", string(d.Data))

	require.NoError(t, leaf.Cut(k, 3, 3))
	d = leaf.Items[0].Body.(Direct)
	assert.Equal(t, "abcdef", string(d.Data))
}

func TestMergeableRespectsFreeSpace(t *testing.T) {
	l := Leaf{Head: BlockHeader{Level: LeafLevel}}
	r := Leaf{Head: BlockHeader{Level: LeafLevel}}
	assert.True(t, Mergeable(l, r, testBlockSize), "two empty leaves are trivially mergeable")
}

func TestFileWritePlanHonorsTailThreshold(t *testing.T) {
	small := PlanWrite(100, 0, make([]byte, 100), testBlockSize)
	require.Len(t, small, 1)
	assert.True(t, small[0].AsDirect)

	big := PlanWrite(1<<20, 0, make([]byte, 4096), testBlockSize)
	require.Len(t, big, 1)
	assert.False(t, big[0].AsDirect)
}

func TestResolveCollisionKeepsFirst(t *testing.T) {
	resolved, dup := ResolveCollision(42, 42)
	assert.Equal(t, uint32(42), resolved)
	assert.True(t, dup)

	resolved, dup = ResolveCollision(42, 99)
	assert.Equal(t, uint32(42), resolved)
	assert.False(t, dup)

	resolved, dup = ResolveCollision(0, 99)
	assert.Equal(t, uint32(99), resolved)
	assert.False(t, dup)
}
