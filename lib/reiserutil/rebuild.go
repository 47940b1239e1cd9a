// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"context"
	"fmt"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reisertree"
)

// Rebuild runs the full five-pass pipeline (spec.md §4.5-§4.10),
// writing a resumable stage dump after each stage and resuming from
// one if dumpPath already holds one. A dump tagged PASS_0_DONE or
// PASS_1_DONE restarts the run at pass 0, since pass 0's hash vote
// and pass 1's in-memory leaves are not part of the dump; later
// stages resume where they left off. superblockHash is the hash
// algorithm recorded in the superblock, used to break pass 0's
// hash-voting ties.
func Rebuild(ctx context.Context, c *Context, dumpPath string, superblockHash namehash.Hash) error {
	stage := Stage("")
	if dumpPath != "" {
		if s, err := ReadStageDump(dumpPath, c); err == nil {
			stage = s
			c.Reporter.Logf(ctx, 0, "resuming rebuild from stage %s", stage)
		}
	}
	if stage == StagePass0Done || stage == StagePass1Done {
		size := rbitmap.BlockNum(c.BlockCount)
		c.Leaves, c.GoodUnfm, c.BadUnfm = rbitmap.New(size), rbitmap.New(size), rbitmap.New(size)
		stage = ""
	}

	var builder *TreeBuilder

	if stage == "" {
		winner, err := c.Pass0(ctx, c.Source, superblockHash)
		if err != nil {
			return fmt.Errorf("reiserutil: pass 0: %w", err)
		}
		if err := dump(dumpPath, StagePass0Done, c); err != nil {
			return err
		}

		var uninsertable *rbitmap.Bitmap
		builder, uninsertable, err = c.Pass1(ctx, winner)
		if err != nil {
			return fmt.Errorf("reiserutil: pass 1: %w", err)
		}
		if err := dump(dumpPath, StagePass1Done, c); err != nil {
			return err
		}

		if err := c.Pass2(ctx, builder, uninsertable); err != nil {
			return fmt.Errorf("reiserutil: pass 2: %w", err)
		}
		if err := c.commitTree(builder); err != nil {
			return fmt.Errorf("reiserutil: committing built tree: %w", err)
		}
		if err := dump(dumpPath, StageTreeIsBuilt, c); err != nil {
			return err
		}
		stage = StageTreeIsBuilt
	}

	if builder == nil {
		var err error
		builder, err = c.rehydrateBuilder()
		if err != nil {
			return fmt.Errorf("reiserutil: rehydrating tree from stage dump: %w", err)
		}
	}

	if stage == StageTreeIsBuilt {
		c.Pass3Semantic(ctx, builder)
		if err := dump(dumpPath, StageSemanticDone, c); err != nil {
			return err
		}
		stage = StageSemanticDone
	}

	if stage == StageSemanticDone {
		c.Pass3aLostFound(ctx, builder)
		if err := dump(dumpPath, StageLostFoundDone, c); err != nil {
			return err
		}
		stage = StageLostFoundDone
	}

	return c.Pass4(ctx, builder)
}

func dump(path string, stage Stage, c *Context) error {
	if path == "" {
		return nil
	}
	return WriteStageDump(path, stage, c)
}

// commitTree is writeTree's first call site: once pass 2 has placed
// every recovered item somewhere, the builder's leaves are written to
// disk and RootBlock/TreeHeight take on real values, so the pipeline
// can be resumed from StageTreeIsBuilt onward without redoing pass
// 0-2. Pass 4's own writeTree call re-persists the same leaves once
// more after cleanup.
func (c *Context) commitTree(builder *TreeBuilder) error {
	root, height, err := c.writeTree(builder)
	if err != nil {
		return err
	}
	c.RootBlock = uint64(root)
	c.TreeHeight = height
	return nil
}

// rehydrateBuilder reconstructs a TreeBuilder by re-reading every
// leaf block recorded in c.New — used when resuming a dump written
// at or after StageTreeIsBuilt, where pass 0-2's in-memory leaves
// aren't available but their on-disk images (written by commitTree)
// are.
func (c *Context) rehydrateBuilder() (*TreeBuilder, error) {
	blockSize := c.Cache.BlockSize()
	builder := &TreeBuilder{}
	size := rbitmap.BlockNum(c.BlockCount)
	for blk := rbitmap.BlockNum(0); uint64(blk) < c.BlockCount && blk < size; blk++ {
		if !c.New.Test(blk) {
			continue
		}
		buf, err := c.Cache.ReadBlock(blk)
		if err != nil {
			return nil, err
		}
		if reisertree.Classify(buf, blockSize) != reisertree.KindLeaf {
			continue
		}
		leaf, err := reisertree.UnmarshalLeaf(buf, blockSize)
		if err != nil || len(leaf.Items) == 0 {
			continue
		}
		builder.Insert(bufcache.BlockNum(blk), leaf)
	}
	return builder, nil
}
