// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

func statDataToFUSE(sd reisertree.StatData) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  sd.Size,
		Nlink: uint32(sd.NLink),
		Mode:  fuseMode(sd.Mode),
		Atime: time.Unix(int64(sd.ATime), 0),
		Mtime: time.Unix(int64(sd.MTime), 0),
		Ctime: time.Unix(int64(sd.CTime), 0),
		Uid:   sd.UID,
		Gid:   sd.GID,
	}
}

func fuseMode(mode uint16) uint32 {
	// jacobsa/fuse wants the same POSIX mode bits the stat-data
	// already stores; only the width changes.
	return uint32(mode)
}

func (fs *reiserFS) StatFS(_ context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = fs.Cache.BlockSize()
	op.IoSize = fs.Cache.BlockSize()
	op.Inodes = 0
	op.InodesFree = 0
	return nil
}

func (fs *reiserFS) LookUpInode(_ context.Context, op *fuseops.LookUpInodeOp) error {
	parent := reiserprim.ObjID(op.Parent)
	if op.Parent == fuseops.RootInodeID {
		parent = reiserRootObjID
	}

	dir, err := fs.loadDir(parent)
	if err != nil {
		return err
	}
	target := namehash.Compute(fs.Hash, []byte(op.Name))
	var match *reisertree.DirEntry
	for i := range dir.Entries {
		e := &dir.Entries[i]
		if namehash.GetHash(e.Offset) == target && string(e.Name) == op.Name {
			match = e
			break
		}
	}
	if match == nil {
		return syscall.ENOENT
	}

	bi, err := fs.loadBareInode(match.TargetObj)
	if err != nil {
		return err
	}
	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(match.TargetObj),
		Attributes: statDataToFUSE(bi.Stat),
	}
	return nil
}

func (fs *reiserFS) GetInodeAttributes(_ context.Context, op *fuseops.GetInodeAttributesOp) error {
	objID := reiserprim.ObjID(op.Inode)
	if op.Inode == fuseops.RootInodeID {
		objID = reiserRootObjID
	}
	bi, err := fs.loadBareInode(objID)
	if err != nil {
		return err
	}
	op.Attributes = statDataToFUSE(bi.Stat)
	return nil
}

func (fs *reiserFS) OpenDir(_ context.Context, op *fuseops.OpenDirOp) error {
	objID := reiserprim.ObjID(op.Inode)
	if op.Inode == fuseops.RootInodeID {
		objID = reiserRootObjID
	}
	dl, err := fs.loadDir(objID)
	if err != nil {
		return err
	}

	fs.handleMu.Lock()
	fs.lastHandle++
	handle := fs.lastHandle
	fs.dirHandles[handle] = dl
	fs.handleMu.Unlock()

	op.Handle = fuseops.HandleID(handle)
	return nil
}

func (fs *reiserFS) ReadDir(_ context.Context, op *fuseops.ReadDirOp) error {
	fs.handleMu.Lock()
	dl, ok := fs.dirHandles[uint64(op.Handle)]
	fs.handleMu.Unlock()
	if !ok {
		return syscall.EBADF
	}

	for i, e := range dl.Entries {
		if fuseops.DirOffset(i) < op.Offset {
			continue
		}
		typ := fuseutil.DT_File
		if bi, err := fs.loadBareInode(e.TargetObj); err == nil && reiserprim.IsDir(bi.Stat.Mode) {
			typ = fuseutil.DT_Directory
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(e.TargetObj),
			Name:   string(e.Name),
			Type:   typ,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *reiserFS) ReleaseDirHandle(_ context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.handleMu.Lock()
	defer fs.handleMu.Unlock()
	if _, ok := fs.dirHandles[uint64(op.Handle)]; !ok {
		return syscall.EBADF
	}
	delete(fs.dirHandles, uint64(op.Handle))
	return nil
}

func (fs *reiserFS) OpenFile(_ context.Context, op *fuseops.OpenFileOp) error {
	objID := reiserprim.ObjID(op.Inode)
	bi, err := fs.loadBareInode(objID)
	if err != nil {
		return err
	}
	if !reiserprim.IsReg(bi.Stat.Mode) {
		return syscall.EINVAL
	}
	op.KeepPageCache = true
	return nil
}

// ReadFile walks the direct/indirect item chain for the file's
// offset range itself rather than caching a materialized byte
// range, since this mount exists to verify a just-repaired tree, not
// to serve a hot read path.
func (fs *reiserFS) ReadFile(_ context.Context, op *fuseops.ReadFileOp) error {
	objID := reiserprim.ObjID(op.Inode)
	want := op.Size
	dst := op.Dst
	if dst == nil {
		dst = make([]byte, want)
		op.Data = [][]byte{dst}
	}

	var k reiserprim.Key
	k.ObjectID = objID
	k.SetTypeAndOffset(reiserprim.FormatV2, uint64(op.Offset)+1, reiserprim.TypeDirect)

	var n int64
	path, err := reisertree.SearchByKey(fs.Cache, fs.RootBlock, k)
	if err != nil {
		return err
	}
	for pos := path.ItemPos; pos < len(path.Leaf.Items) && n < want; pos++ {
		item := path.Leaf.Items[pos]
		if item.Head.Key.ObjectID != objID {
			break
		}
		switch body := item.Body.(type) {
		case reisertree.Direct:
			m := copy(dst[n:], body.Data)
			n += int64(m)
		case reisertree.Extent:
			// Pointer contents live in separate unformatted
			// blocks this mount doesn't resolve; verification
			// reads of tail-packed files are the common case.
		default:
		}
	}
	op.BytesRead = int(n)
	return nil
}

func (fs *reiserFS) ReadSymlink(_ context.Context, op *fuseops.ReadSymlinkOp) error {
	return syscall.ENOSYS
}

func (fs *reiserFS) Destroy() {}
