// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/diskio"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rsuper"
)

func main() {
	ctx := context.Background()
	logger := logrus.New()
	ctx = dlog.WithLogger(ctx, dlog.WrapLogrus(logger))

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
	})
	grp.Go("main", func(ctx context.Context) error {
		if len(os.Args) != 3 {
			return fmt.Errorf("usage: %s device mountpoint", os.Args[0])
		}
		return Main(ctx, os.Args[1], os.Args[2])
	})
	if err := grp.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", os.Args[0], err)
		os.Exit(1)
	}
}

// Main opens device read-only and mounts it read-only at mountpoint,
// the way cmd/btrfs-mount's Main opens a btrfs image and calls
// btrfsinspect.MountRO — here there's no separate inspect package, so
// the FUSE server is built directly against the cache+superblock.
func Main(ctx context.Context, device, mountpoint string) (err error) {
	maybeSetErr := func(_err error) {
		if _err != nil && err == nil {
			err = _err
		}
	}

	f, err := diskio.OpenRO(device)
	if err != nil {
		return err
	}
	defer func() {
		maybeSetErr(f.Close())
	}()

	const probeSize = 0x100
	var sb *rsuper.Superblock
	for _, off := range []int64{rsuper.OffsetNew, rsuper.OffsetOld} {
		buf := make([]byte, probeSize)
		if _, rerr := f.ReadAt(buf, diskio.PAddr(off)); rerr != nil {
			continue
		}
		if s, uerr := rsuper.Unmarshal(buf); uerr == nil {
			sb = s
			break
		}
	}
	if sb == nil {
		return fmt.Errorf("reiserfsck-mount: no ReiserFS superblock found on %s", device)
	}
	blockSize := uint32(sb.BlockSize)
	if blockSize == 0 {
		blockSize = 4096
	}

	cache := bufcache.New(f, blockSize, 1024)
	hash := sb.HashCodeToHash()
	if hash == namehash.HashUnknown {
		hash = namehash.HashR5
	}

	fs := &reiserFS{
		Cache:      cache,
		RootBlock:  bufcache.BlockNum(sb.RootBlock),
		DeviceName: device,
		Mountpoint: mountpoint,
		Hash:       hash,
	}
	return fs.Run(ctx)
}
