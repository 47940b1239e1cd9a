// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/diskio"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rollback"
)

func newRollbackCommand(shared *sharedFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback device rollback-file",
		Short: "Undo a previous fix-fixable/rebuild-tree run using its rollback file",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(shared, args[0], args[1])
		},
	}
}

func runRollback(shared *sharedFlags, device, rollbackFile string) error {
	if !fileExists(rollbackFile) {
		return withExitCode(exitUsage, fmt.Errorf("reiserfsck: rollback file %s does not exist", rollbackFile))
	}
	reporter := reporterFor(shared)
	if shared.Interactive && !reporter.Ask(fmt.Sprintf("Replay %s in reverse onto %s, discarding every write made since?", rollbackFile, device), false) {
		return withExitCode(exitUsage, fmt.Errorf("reiserfsck: rollback aborted by operator"))
	}

	f, err := diskio.OpenRW(device)
	if err != nil {
		return withExitCode(exitOperationError, fmt.Errorf("reiserfsck: open %s: %w", device, err))
	}
	defer f.Close()

	if err := rollback.Replay(rollbackFile, f); err != nil {
		return withExitCode(exitOperationError, fmt.Errorf("reiserfsck: rollback: %w", err))
	}

	fmt.Printf("rolled back %s using %s\n", device, rollbackFile)
	return withExitCode(exitOK, nil)
}
