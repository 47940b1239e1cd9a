// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rfsckerr defines the consistency-problem taxonomy shared
// by the Checker and Rebuilder (spec.md §7.1): every inconsistency
// found on the device is classified Fatal, Fixable, or Informational
// before it is ever reported or repaired.
package rfsckerr

import "fmt"

// Severity classifies a Problem per spec.md §7.1.
type Severity uint8

const (
	// Info problems are counted but never repaired unless the
	// underlying link itself is malformed (e.g. zero extent
	// pointers, safe-link items).
	Info Severity = iota
	// Fixable problems are repaired by fix-fixable, or counted and
	// reported otherwise (free-space drift, bitmap mismatch, a
	// directory entry not VISIBLE, deh_location sort errors, nlink
	// drift, sd size/blocks drift, relocated-object detection).
	Fixable
	// Fatal problems abort check mode with "rebuild required"; in
	// rebuild mode they cause the offending item or block to be
	// dropped, never the whole run.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Fixable:
		return "fixable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind names a specific class of inconsistency, grouped into the
// Severity buckets spec.md §7.1 enumerates.
type Kind string

const (
	KindTreeHeightMismatch     Kind = "tree-height-mismatch"
	KindBlockSeenTwice         Kind = "block-seen-twice"
	KindDelimitingKeyViolation Kind = "delimiting-key-violation"
	KindKeyOrderViolation      Kind = "key-order-violation"
	KindKeyOutsideDataArea     Kind = "key-outside-data-area"
	KindBlockHeadBroken        Kind = "block-head-broken"

	KindFreeSpaceDrift     Kind = "free-space-drift"
	KindBitmapMismatch     Kind = "bitmap-mismatch"
	KindEntryNotVisible    Kind = "entry-not-visible"
	KindEntryLocationOrder Kind = "entry-location-order"
	KindNLinkWrong         Kind = "nlink-wrong"
	KindSizeBlocksDrift    Kind = "size-blocks-drift"
	KindRelocatedObject    Kind = "relocated-object"

	KindZeroExtentPointer Kind = "zero-extent-pointer"
	KindSafeLinkPresent   Kind = "safe-link-present"
)

// severityOf is the fixed mapping from Kind to Severity that spec.md
// §7.1 enumerates; it is intentionally not overridable per-instance,
// since the classification is a property of the problem kind, not of
// where it was encountered.
var severityOf = map[Kind]Severity{
	KindTreeHeightMismatch:     Fatal,
	KindBlockSeenTwice:         Fatal,
	KindDelimitingKeyViolation: Fatal,
	KindKeyOrderViolation:      Fatal,
	KindKeyOutsideDataArea:     Fatal,
	KindBlockHeadBroken:        Fatal,

	KindFreeSpaceDrift:     Fixable,
	KindBitmapMismatch:     Fixable,
	KindEntryNotVisible:    Fixable,
	KindEntryLocationOrder: Fixable,
	KindNLinkWrong:         Fixable,
	KindSizeBlocksDrift:    Fixable,
	KindRelocatedObject:    Fixable,

	KindZeroExtentPointer: Info,
	KindSafeLinkPresent:   Info,
}

// SeverityOf returns k's fixed severity bucket.
func SeverityOf(k Kind) Severity {
	return severityOf[k]
}

// Problem is one instance of an inconsistency found during check or
// rebuild, with enough context to report and, for Fixable problems,
// repair it.
type Problem struct {
	Kind     Kind
	Block    uint64
	Detail   string
	Repaired bool
}

func New(k Kind, block uint64, detail string) Problem {
	return Problem{Kind: k, Block: block, Detail: detail}
}

func (p Problem) Severity() Severity { return SeverityOf(p.Kind) }

func (p Problem) Error() string {
	return fmt.Sprintf("%s: block %d: %s: %s", p.Severity(), p.Block, p.Kind, p.Detail)
}

// Problems accumulates Problem records across a check or rebuild
// run, and is what Reporter ultimately renders a summary from.
type Problems struct {
	items []Problem
}

func (ps *Problems) Add(p Problem) {
	ps.items = append(ps.items, p)
}

func (ps *Problems) All() []Problem { return ps.items }

// CountBySeverity tallies how many recorded problems fall in each
// bucket, for the end-of-run summary (spec.md §6: counts of
// fatal/fixable/fixed/informational).
func (ps *Problems) CountBySeverity() map[Severity]int {
	out := map[Severity]int{}
	for _, p := range ps.items {
		out[p.Severity()]++
	}
	return out
}

// HasFatal reports whether any recorded problem is Fatal, which in
// check mode means the run must abort advising "rebuild required"
// (spec.md §7.1).
func (ps *Problems) HasFatal() bool {
	for _, p := range ps.items {
		if p.Severity() == Fatal {
			return true
		}
	}
	return false
}
