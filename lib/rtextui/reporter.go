// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rtextui is the fsck tool's progress/logging/prompt facade,
// threaded explicitly through Checker and the rebuild passes instead
// of going through package-level loggers.
package rtextui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// printer formats the block counts in Progress with thousands
// separators, the same way lib/textui's printer dresses up large
// counts for a human reading fsck output instead of a log scraper.
var printer = message.NewPrinter(language.English)

// Reporter is what the Checker and the rebuild passes use to surface
// progress, log messages, and (for modes that support it) ask the
// operator a yes/no question before taking a destructive action.
type Reporter interface {
	Logf(ctx context.Context, lvl dlog.LogLevel, format string, args ...any)
	Progress(stage string, cur, total uint64)
	Ask(prompt string, defaultYes bool) bool
}

// dlogReporter is the production Reporter: log lines go through dlog
// at the configured level, progress lines are rate-limited the same
// way textui.Progress rate-limits scan-phase stats, and Ask reads a
// line from stdin.
type dlogReporter struct {
	lastStage string
	lastPct   int
}

// NewReporter returns a Reporter that logs through ctx's dlog.Logger.
func NewReporter() Reporter {
	return &dlogReporter{}
}

func (r *dlogReporter) Logf(ctx context.Context, lvl dlog.LogLevel, format string, args ...any) {
	dlog.Logf(ctx, lvl, format, args...)
}

// Progress logs a line whenever the stage changes or progress crosses
// a new percentage point, mirroring textui.Progress's old-line/old-stat
// de-duplication so a long pass doesn't spam one line per block.
func (r *dlogReporter) Progress(stage string, cur, total uint64) {
	pct := 0
	if total > 0 {
		pct = int(cur * 100 / total)
	}
	if stage == r.lastStage && pct == r.lastPct {
		return
	}
	r.lastStage, r.lastPct = stage, pct
	printer.Fprintf(os.Stderr, "%s: %d%% (%d/%d)\n", stage, pct, cur, total)
}

func (r *dlogReporter) Ask(prompt string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	fmt.Fprintf(os.Stderr, "%s [%s] ", prompt, hint)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return defaultYes
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return defaultYes
	}
}

// NullReporter discards log lines and progress, and always answers Ask
// with defaultYes; it's what tests hand Checker/Context so expected
// output isn't cluttered with progress lines.
type NullReporter struct{}

func (NullReporter) Logf(context.Context, dlog.LogLevel, string, ...any) {}
func (NullReporter) Progress(string, uint64, uint64)                     {}
func (NullReporter) Ask(_ string, defaultYes bool) bool                  { return defaultYes }

var _ Reporter = (*dlogReporter)(nil)
var _ Reporter = NullReporter{}
