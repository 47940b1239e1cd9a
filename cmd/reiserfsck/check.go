// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/bufcache"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/namehash"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rfsckerr"
	"github.com/lukeshu/reiserfsck-ng/lib/reisercheck"
)

func newCheckCommand(shared *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check device",
		Short: "Check a filesystem for consistency without modifying it (default mode)",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, shared, args[0], false)
		},
	}
}

func newFixFixableCommand(shared *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fix-fixable device",
		Short: "Check a filesystem and repair every Fixable problem found",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, shared, args[0], true)
		},
	}
}

func runCheck(cmd *cobra.Command, shared *sharedFlags, device string, fixFixable bool) error {
	fs, err := openFS(device, fixFixable, shared.RollbackFile)
	if err != nil {
		return withExitCode(exitOperationError, err)
	}
	defer fs.Close()

	hash := fs.Super.HashCodeToHash()
	if hash == namehash.HashUnknown {
		hash = hashFromHint(shared.HashHint)
	}

	checker := &reisercheck.Checker{
		Cache:      fs.Cache,
		RootBlock:  bufcache.BlockNum(fs.Super.RootBlock),
		TreeHeight: fs.Super.TreeHeight,
		BlockCount: uint64(fs.Super.BlockCount),
		Reserved:   fs.Reserved,
		Hash:       hash,
		FixFixable: fixFixable,
	}

	result, err := checker.Run(cmd.Context())
	if err != nil {
		return withExitCode(exitOperationError, err)
	}

	printResult(shared, result)

	switch {
	case result.FatalCorruptions > 0:
		return withExitCode(exitFatal, fmt.Errorf("%d fatal corruption(s): rebuild-tree is required", result.FatalCorruptions))
	case fixFixable && result.Fixed > 0:
		return withExitCode(exitFixed, nil)
	case result.FixableCorruptions > 0:
		return withExitCode(exitFixableRemain, fmt.Errorf("%d fixable corruption(s) remain; re-run with fix-fixable", result.FixableCorruptions))
	default:
		return nil
	}
}

func printResult(shared *sharedFlags, result reisercheck.Result) {
	if !shared.Silent {
		for _, p := range result.Problems {
			if shared.Quiet && p.Severity() == rfsckerr.Info {
				continue
			}
			fmt.Println(p.Error())
		}
	}
	fmt.Printf("%d fatal, %d fixable (%d fixed)\n", result.FatalCorruptions, result.FixableCorruptions, result.Fixed)
}
