// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

func newDumpItemsCommand(shared *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump-items device",
		Short: "Spew every item in the tree as parsed, for manual inspection",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDumpItems(shared, args[0])
		},
	}
}

func runDumpItems(shared *sharedFlags, device string) error {
	fs, err := openFS(device, false, "")
	if err != nil {
		return withExitCode(exitOperationError, err)
	}
	defer fs.Close()

	dumper := spew.NewDefaultConfig()
	dumper.DisablePointerAddresses = true

	root := bufcache.BlockNum(fs.Super.RootBlock)
	return withExitCode(exitOperationError, dumpBlock(fs.Cache, root, dumper))
}

func dumpBlock(cache *bufcache.Cache, blk bufcache.BlockNum, dumper *spew.ConfigState) error {
	buf, err := cache.ReadBlock(blk)
	if err != nil {
		return fmt.Errorf("reiserfsck: dump-items: reading block %d: %w", blk, err)
	}
	switch reisertree.Classify(buf, cache.BlockSize()) {
	case reisertree.KindLeaf:
		leaf, err := reisertree.UnmarshalLeaf(buf, cache.BlockSize())
		if err != nil {
			return fmt.Errorf("reiserfsck: dump-items: block %d: %w", blk, err)
		}
		for _, item := range leaf.Items {
			fmt.Fprintf(os.Stdout, "block=%d key=%s = ", blk, item.Head.Key)
			dumper.Dump(item.Body)
		}
	case reisertree.KindInternal:
		internal := reisertree.UnmarshalInternal(buf)
		for _, child := range internal.Children {
			if err := dumpBlock(cache, child, dumper); err != nil {
				return err
			}
		}
	default:
		fmt.Fprintf(os.Stdout, "block=%d: not a tree node\n", blk)
	}
	return nil
}
