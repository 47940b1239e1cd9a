// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/diskio"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rollback"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rsuper"
	"github.com/lukeshu/reiserfsck-ng/lib/rtextui"
)

const cacheBlocks = 1024 // arbitrary; metadata-hot working set for a single-pass run

// openedFS is what every subcommand needs after opening the device
// and reading its superblock: the cache to read/write blocks
// through, the decoded superblock, and the bitmap of blocks the
// superblock's own metadata (itself, the free-block bitmap, the
// journal) occupies and which pass 0 must never treat as scannable
// tree content.
type openedFS struct {
	File     diskio.File[diskio.PAddr]
	Cache    *bufcache.Cache
	Super    *rsuper.Superblock
	SuperOff diskio.PAddr
	Reserved *rbitmap.Bitmap
	Rollback *rollback.Log
}

func (o *openedFS) Close() error {
	if o.Rollback != nil {
		if err := o.Rollback.Close(); err != nil {
			return err
		}
	}
	if err := o.Cache.Flush(); err != nil {
		return err
	}
	return o.File.Close()
}

// openFS opens device for reading, or reading+writing when
// readWrite is set, reads the superblock at OffsetNew (falling back
// to OffsetOld for pre-3.6 images), and wires a rollback log over
// the cache's write path when rollbackPath is non-empty (spec.md §6.4).
func openFS(device string, readWrite bool, rollbackPath string) (*openedFS, error) {
	var f diskio.File[diskio.PAddr]
	var err error
	if readWrite {
		f, err = diskio.OpenRW(device)
	} else {
		f, err = diskio.OpenRO(device)
	}
	if err != nil {
		return nil, fmt.Errorf("reiserfsck: open %s: %w", device, err)
	}

	sb, blockSize, sbOff, err := readSuperblock(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	cache := bufcache.New(f, blockSize, cacheBlocks)

	var rb *rollback.Log
	if rollbackPath != "" {
		rb, err = rollback.Create(rollbackPath, blockSize)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("reiserfsck: %w", err)
		}
		cache.SetWriteHook(func(blk bufcache.BlockNum, preimage []byte) error {
			return rb.Append(rbitmap.BlockNum(blk), preimage)
		})
	}

	return &openedFS{
		File:     f,
		Cache:    cache,
		Super:    sb,
		SuperOff: sbOff,
		Reserved: reservedBlocks(sb, blockSize),
		Rollback: rb,
	}, nil
}

// readSuperblock tries the 3.6+ location first, then the pre-3.6
// one, per spec.md §6.1.
func readSuperblock(f diskio.File[diskio.PAddr]) (*rsuper.Superblock, uint32, diskio.PAddr, error) {
	const probeSize = 0x100

	for _, off := range []int64{rsuper.OffsetNew, rsuper.OffsetOld} {
		buf := make([]byte, probeSize)
		if _, err := f.ReadAt(buf, diskio.PAddr(off)); err != nil {
			continue
		}
		sb, err := rsuper.Unmarshal(buf)
		if err != nil {
			continue
		}
		blockSize := uint32(sb.BlockSize)
		if blockSize == 0 {
			blockSize = 4096
		}
		return sb, blockSize, diskio.PAddr(off), nil
	}
	return nil, 0, 0, fmt.Errorf("reiserfsck: no ReiserFS superblock found at offset 0x%x or 0x%x", rsuper.OffsetNew, rsuper.OffsetOld)
}

// reservedBlocks computes the "non-spread" layout spec.md §6
// describes: the superblock's own block, the bitmap blocks
// immediately following it, and (when co-located) the journal
// immediately after those.
func reservedBlocks(sb *rsuper.Superblock, blockSize uint32) *rbitmap.Bitmap {
	size := rbitmap.BlockNum(sb.BlockCount)
	r := rbitmap.New(size)

	sbBlock := rbitmap.BlockNum(rsuper.OffsetNew / int64(blockSize))
	r.Set(sbBlock)

	bitmapStart := sbBlock + 1
	bitmapCount := rbitmap.BlockNum(sb.BitmapCount)
	if bitmapCount == 0 {
		bitmapCount = 1
	}
	r.SetRange(bitmapStart, bitmapStart+bitmapCount)

	journalStart := bitmapStart + bitmapCount
	journalLen := rbitmap.BlockNum(sb.Journal.OrigSize)
	if journalLen == 0 {
		journalLen = 8192 // the classic default journal size
	}
	if sb.Journal.Dev == 0 {
		// Standard layout: journal lives on this device right
		// after the bitmaps. A non-zero Dev means an external
		// journal device, which isn't scanned at all here.
		r.SetRange(journalStart, journalStart+journalLen)
	}

	return r
}

func hashFromHint(hint string) namehash.Hash {
	switch hint {
	case "r5":
		return namehash.HashR5
	case "rupasov":
		return namehash.HashRupasov
	case "tea":
		return namehash.HashTEA
	default:
		return namehash.HashUnknown
	}
}

// quietReporter drops progress lines and passes everything else
// through; it backs --quiet and --silent.
type quietReporter struct{ rtextui.Reporter }

func (quietReporter) Progress(string, uint64, uint64) {}

func reporterFor(shared *sharedFlags) rtextui.Reporter {
	if shared.Quiet || shared.Silent {
		return quietReporter{rtextui.NewReporter()}
	}
	return rtextui.NewReporter()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// readBitmapFile loads an external "which blocks are worth scanning"
// bitmap (spec.md §6: "bitmap file for pass-0 scan area restriction"),
// one bit per block, packed the same way the on-disk free bitmap is.
func readBitmapFile(path string, blockCount uint64) (*rbitmap.Bitmap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reiserfsck: reading bitmap file %s: %w", path, err)
	}
	b := rbitmap.New(rbitmap.BlockNum(blockCount))
	for i := uint64(0); i < blockCount && i/8 < uint64(len(raw)); i++ {
		if raw[i/8]&(1<<(i%8)) != 0 {
			b.Set(rbitmap.BlockNum(i))
		}
	}
	return b, nil
}

// intersectBitmaps returns the blocks set in both a and b; rbitmap
// doesn't expose an And primitive (none of the passes need one), so
// this is built from Test/Set directly for the one CLI caller that does.
func intersectBitmaps(a, b *rbitmap.Bitmap, size rbitmap.BlockNum) *rbitmap.Bitmap {
	out := rbitmap.New(size)
	for i := rbitmap.BlockNum(0); i < size; i++ {
		if a.Test(i) && b.Test(i) {
			out.Set(i)
		}
	}
	return out
}
