// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
	"github.com/lukeshu/reiserfsck-ng/lib/reiserutil"
)

func newRebuildTreeCommand(shared *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-tree device",
		Short: "Reconstruct the tree from scratch by scanning every block on the device",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuildTree(cmd, shared, args[0])
		},
	}
}

func runRebuildTree(cmd *cobra.Command, shared *sharedFlags, device string) error {
	reporter := reporterFor(shared)
	if shared.Interactive && !reporter.Ask("This discards the existing tree structure and rebuilds it from scratch. Continue?", false) {
		return withExitCode(exitUsage, fmt.Errorf("reiserfsck: rebuild-tree aborted by operator"))
	}

	fs, err := openFS(device, true, shared.RollbackFile)
	if err != nil {
		return withExitCode(exitOperationError, err)
	}
	defer fs.Close()

	blockCount := uint64(fs.Super.BlockCount)
	c := reiserutil.NewContext(fs.Cache, blockCount, fs.Reserved, reporter)

	c.Source = rbitmap.New(rbitmap.BlockNum(blockCount))
	c.Source.SetRange(0, rbitmap.BlockNum(blockCount))
	c.Source.AndNot(fs.Reserved)
	if shared.BitmapFile != "" && !shared.ScanWholePartition {
		scan, err := readBitmapFile(shared.BitmapFile, blockCount)
		if err != nil {
			return withExitCode(exitOperationError, err)
		}
		c.Source = intersectBitmaps(c.Source, scan, rbitmap.BlockNum(blockCount))
	}

	hash := fs.Super.HashCodeToHash()
	if hash == namehash.HashUnknown {
		hash = hashFromHint(shared.HashHint)
	}

	if err := reiserutil.Rebuild(cmd.Context(), c, shared.PassDumpFile, hash); err != nil {
		return withExitCode(exitOperationError, fmt.Errorf("reiserfsck: rebuild-tree: %w", err))
	}

	fs.Super.RootBlock = uint32(c.RootBlock)
	fs.Super.TreeHeight = c.TreeHeight
	sbBuf, err := fs.Super.Marshal()
	if err != nil {
		return withExitCode(exitOperationError, err)
	}
	if _, err := fs.File.WriteAt(sbBuf, fs.SuperOff); err != nil {
		return withExitCode(exitOperationError, fmt.Errorf("reiserfsck: writing updated superblock: %w", err))
	}

	fmt.Printf("rebuilt tree: root block %d, height %d\n", c.RootBlock, c.TreeHeight)
	return withExitCode(exitFixed, nil)
}
