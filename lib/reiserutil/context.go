// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reiserutil implements the Rebuilder design component
// (spec.md §4.5-§4.10): the five-pass bottom-up tree reconstruction
// pipeline, its resumable stage dump, and the semantic/lost+found
// walk that ties reconstructed items back into a directory tree.
package reiserutil

import (
	"sync"

	"git.lukeshu.com/go/typedsync"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/objectid"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/rtextui"
)

// Context bundles every piece of cross-pass state the rebuilder
// threads through explicitly (spec.md §5: "no globals"; every
// operation takes the state it needs). It is built once per run and
// handed to each pass in turn; passes mutate the bitmaps/maps in
// place and record relocations through RecordRelocation.
type Context struct {
	Cache      *bufcache.Cache
	BlockCount uint64
	Reserved   *rbitmap.Bitmap
	Reporter   rtextui.Reporter

	// Source is the on-disk free-block bitmap as found; New
	// accumulates the bitmap of the tree being rebuilt; Leaves holds
	// every block pass 0 judged recoverable; GoodUnfm/BadUnfm track
	// extent-pointer collisions across pass 0/1 (spec.md §4.5 step
	// 2, §4.6 step 3); Allocable is what's left to hand out fresh
	// during pass 2 via new_blocknrs.
	Source    *rbitmap.Bitmap
	New       *rbitmap.Bitmap
	Leaves    *rbitmap.Bitmap
	GoodUnfm  *rbitmap.Bitmap
	BadUnfm   *rbitmap.Bitmap
	Allocable *rbitmap.Bitmap

	Objects *objectid.Map
	Hash    *namehash.Selector

	// RootBlock/TreeHeight describe the tree under construction;
	// pass 1 sets TreeHeight to 2 once it has an insertable leaf
	// (spec.md §4.6 "empty tree bootstrap"), and RootBlock is set
	// whenever writeTree writes the tree (after pass 2 and in pass 4).
	RootBlock  uint64
	TreeHeight uint16

	// relocations maps an object's original (dir_id, object_id) to
	// its freshly allocated object_id after pass-2 relocation
	// (spec.md §4.7 "Relocation"). Pass 2 fills it from a single
	// goroutine; typedsync.Map also makes it safe for concurrent use.
	relocations typedsync.Map[relocKey, reiserprim.ObjID]

	mu             sync.Mutex
	badUnfmInTree  map[uint32]bool // spec.md §4.6 step 3: bad_unfm_in_tree_once
}

type relocKey struct {
	DirID ObjID
	OID   ObjID
}

// ObjID is re-exported so callers of this package don't need to
// import reiserprim just to build a relocation key.
type ObjID = reiserprim.ObjID

// RecordRelocation registers that (dirID, oldOID) now lives at
// newOID.
func (c *Context) RecordRelocation(dirID, oldOID, newOID ObjID) {
	c.relocations.Store(relocKey{DirID: dirID, OID: oldOID}, newOID)
}

// Relocated looks up whether (dirID, oid) was relocated during this
// run, returning the new object id if so.
func (c *Context) Relocated(dirID, oid ObjID) (ObjID, bool) {
	return c.relocations.Load(relocKey{DirID: dirID, OID: oid})
}

// MarkBadUnfmSeen implements the "tracked in bad_unfm_in_tree_once"
// bookkeeping from spec.md §4.6 step 3: the first time a bad_unfm
// pointer is re-encountered during pass 1, it's kept; every
// subsequent sighting is zeroed.
func (c *Context) MarkBadUnfmSeen(ptr uint32) (firstSighting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.badUnfmInTree == nil {
		c.badUnfmInTree = make(map[uint32]bool)
	}
	if c.badUnfmInTree[ptr] {
		return false
	}
	c.badUnfmInTree[ptr] = true
	return true
}

// NewContext allocates a Context with every bitmap sized for
// blockCount blocks.
func NewContext(cache *bufcache.Cache, blockCount uint64, reserved *rbitmap.Bitmap, reporter rtextui.Reporter) *Context {
	size := rbitmap.BlockNum(blockCount)
	return &Context{
		Cache:      cache,
		BlockCount: blockCount,
		Reserved:   reserved,
		Reporter:   reporter,
		Source:     rbitmap.New(size),
		New:        rbitmap.New(size),
		Leaves:     rbitmap.New(size),
		GoodUnfm:   rbitmap.New(size),
		BadUnfm:    rbitmap.New(size),
		Allocable:  rbitmap.New(size),
		Objects:    objectid.New(),
	}
}
