// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

func newCleanAttributesCommand(shared *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-attributes device",
		Short: "Clear the reserved extended-attribute bits on every regular-file stat-data item",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanAttributes(shared, args[0])
		},
	}
}

// runCleanAttributes is deliberately the simplest of the five modes:
// a single pass over every block that classifies as a leaf, clearing
// RdevOrFirstDirectByte on any v2 regular-file stat-data (the field
// that doubles as sd_attrs once a stat-data item is neither a device
// node nor a v1-format file), and writing back only the leaves it
// changed. It doesn't walk the tree structure at all.
func runCleanAttributes(shared *sharedFlags, device string) error {
	fs, err := openFS(device, true, shared.RollbackFile)
	if err != nil {
		return withExitCode(exitOperationError, err)
	}
	defer fs.Close()

	blockSize := fs.Cache.BlockSize()
	blockCount := uint64(fs.Super.BlockCount)
	var cleaned int

	for blk := bufcache.BlockNum(0); uint64(blk) < blockCount; blk++ {
		if fs.Reserved.Test(blk) {
			continue
		}
		buf, err := fs.Cache.ReadBlock(blk)
		if err != nil {
			continue
		}
		if reisertree.Classify(buf, blockSize) != reisertree.KindLeaf {
			continue
		}
		leaf, err := reisertree.UnmarshalLeaf(buf, blockSize)
		if err != nil {
			continue
		}

		var changed bool
		for i, it := range leaf.Items {
			sd, ok := it.Body.(reisertree.StatData)
			if !ok || sd.Format != reiserprim.FormatV2 || !reiserprim.IsReg(sd.Mode) {
				continue
			}
			if sd.RdevOrFirstDirectByte == 0 {
				continue
			}
			sd.RdevOrFirstDirectByte = 0
			it.Body = sd
			leaf.Items[i] = it
			changed = true
			cleaned++
		}
		if changed {
			if err := fs.Cache.WriteBlock(blk, leaf.Marshal(blockSize)); err != nil {
				return withExitCode(exitOperationError, err)
			}
		}
	}

	fmt.Printf("cleared attrs on %d stat-data item(s)\n", cleaned)
	if cleaned > 0 {
		return withExitCode(exitFixed, nil)
	}
	return withExitCode(exitOK, nil)
}
