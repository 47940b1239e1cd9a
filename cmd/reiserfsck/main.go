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
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// exit codes, spec.md §6: "0 ok; 1 fixed; 2 reboot recommended; 4
// fatal; 6 fixable remain; 8 operation error; 16 usage".
const (
	exitOK              = 0
	exitFixed           = 1
	exitRebootRequired  = 2
	exitFatal           = 4
	exitFixableRemain   = 6
	exitOperationError  = 8
	exitUsage           = 16
)

type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

// sharedFlags are the options spec.md §6 says "the core consumes":
// journal-device path, bitmap file, scan-whole-partition flag, hash
// hint, rollback file path, badblocks file, pass-dump file, and the
// interactive/quiet/silent trio that pick a Reporter.Ask policy.
type sharedFlags struct {
	JournalDevice    string
	BitmapFile       string
	ScanWholePartition bool
	HashHint         string
	RollbackFile     string
	BadblocksFile    string
	PassDumpFile     string
	Interactive      bool
	Quiet            bool
	Silent           bool
}

func main() {
	logLevel := logLevelFlag{Level: logrus.InfoLevel}
	var shared sharedFlags

	argparser := &cobra.Command{
		Use:   "reiserfsck {[flags]|SUBCOMMAND} device",
		Short: "Check and repair a ReiserFS filesystem",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{ //nolint:exhaustivestruct
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)

	pf := argparser.PersistentFlags()
	pf.Var(&logLevel, "verbosity", "set the verbosity")
	pf.StringVar(&shared.JournalDevice, "journal-device", "", "path to a separate journal device")
	pf.StringVar(&shared.BitmapFile, "bitmap-file", "", "restrict pass 0's scan to the blocks marked used in `bitmap.img`")
	pf.BoolVar(&shared.ScanWholePartition, "scan-whole-partition", false, "ignore the on-disk bitmap and scan every block")
	pf.StringVar(&shared.HashHint, "hash", "", "hash function to assume (r5, rupasov, tea) when the superblock's is unusable")
	pf.StringVar(&shared.RollbackFile, "rollback-file", "", "record pre-images of every write to `rollback.img` for later undo")
	pf.StringVar(&shared.BadblocksFile, "badblocks-file", "", "treat the blocks listed in `badblocks.img` as unusable")
	pf.StringVar(&shared.PassDumpFile, "pass-dump", "", "resumable rebuild-tree stage dump path")
	pf.BoolVarP(&shared.Interactive, "interactive", "i", false, "ask before each fix")
	pf.BoolVarP(&shared.Quiet, "quiet", "q", false, "only print problems, no progress")
	pf.BoolVarP(&shared.Silent, "silent", "s", false, "print nothing but the final summary")

	for _, sub := range []*cobra.Command{
		newCheckCommand(&shared),
		newFixFixableCommand(&shared),
		newRebuildTreeCommand(&shared),
		newRollbackCommand(&shared),
		newCleanAttributesCommand(&shared),
		newDumpItemsCommand(&shared),
	} {
		argparser.AddCommand(sub)
	}

	wrapWithLogging(argparser, &logLevel)

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		code := exitOperationError
		if ec, ok := err.(interface{ ExitCode() int }); ok {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}

// wrapWithLogging installs dlog/dgroup context plumbing around every
// leaf command's RunE, matching cmd/btrfs-rec/main.go's per-subcommand
// wrapping (there: opening the filesystem and installing a signal-
// handling dgroup before calling the inspector/repairer's own RunE).
func wrapWithLogging(cmd *cobra.Command, logLevel *logLevelFlag) {
	for _, child := range cmd.Commands() {
		if len(child.Commands()) > 0 {
			wrapWithLogging(child, logLevel)
			continue
		}
		runE := child.RunE
		if runE == nil {
			continue
		}
		child.RunE = func(c *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetLevel(logLevel.Level)
			ctx := dlog.WithLogger(c.Context(), dlog.WrapLogrus(logger))

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			grp.Go("main", func(ctx context.Context) error {
				c.SetContext(ctx)
				return runE(c, args)
			})
			return grp.Wait()
		}
	}
}

type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }
func (e *exitCodeError) ExitCode() int { return e.code }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}
