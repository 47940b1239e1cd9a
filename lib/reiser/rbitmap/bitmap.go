// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rbitmap implements the fixed-size free/used block bitmaps
// used throughout the checker and rebuilder (spec.md §3 "Bitmaps used
// by the core").  Rather than a raw bit-per-block array, the set bits
// are tracked as merged [start,end) runs in an interval tree, the
// same representation the teacher uses for its logical/physical
// address space (btrfsvol's chunk-mapping intervals) — runs of
// contiguous allocated blocks are the common case, so this keeps
// count/compare/disjunction operations close to O(runs) rather than
// O(blocks).
package rbitmap

import (
	"fmt"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rcontainers"
)

// BlockNum is a block address on the device.
type BlockNum uint64

type run struct {
	Start, End BlockNum // half-open [Start, End)
}

func (r run) Cmp(o run) int {
	switch {
	case r.Start < o.Start:
		return -1
	case r.Start > o.Start:
		return 1
	default:
		return 0
	}
}

// Bitmap is a fixed-size bit array over [0, Size) block numbers.
type Bitmap struct {
	Size BlockNum
	runs rcontainers.IntervalTree[rcontainers.Native[BlockNum], run]
}

func New(size BlockNum) *Bitmap {
	b := &Bitmap{Size: size}
	b.init()
	return b
}

func (b *Bitmap) init() {
	if b.runs.MinFn == nil {
		b.runs.MinFn = func(r run) rcontainers.Native[BlockNum] { return rcontainers.Native[BlockNum]{Val: r.Start} }
		b.runs.MaxFn = func(r run) rcontainers.Native[BlockNum] { return rcontainers.Native[BlockNum]{Val: r.End - 1} }
	}
}

// Test reports whether block n is set.
func (b *Bitmap) Test(n BlockNum) bool {
	b.init()
	_, ok := b.runs.Lookup(rcontainers.Native[BlockNum]{Val: n})
	return ok
}

// Set marks block n as used, merging with adjacent runs.
func (b *Bitmap) Set(n BlockNum) {
	b.SetRange(n, n+1)
}

// Clear marks block n as free.
func (b *Bitmap) Clear(n BlockNum) {
	b.ClearRange(n, n+1)
}

// SetRange marks [start,end) as used.
func (b *Bitmap) SetRange(start, end BlockNum) {
	b.init()
	if end <= start {
		return
	}
	// Absorb any overlapping/adjacent runs into [start,end).
	for {
		found := false
		for _, r := range b.runs.SearchAll(func(k rcontainers.Native[BlockNum]) int {
			switch {
			case k.Val+1 < start:
				return 1
			case k.Val > end:
				return -1
			default:
				return 0
			}
		}) {
			if r.Start < start {
				start = r.Start
			}
			if r.End > end {
				end = r.End
			}
			b.runs.Delete(
				rcontainers.Native[BlockNum]{Val: r.Start},
				rcontainers.Native[BlockNum]{Val: r.End - 1},
			)
			found = true
		}
		if !found {
			break
		}
	}
	b.runs.Insert(run{Start: start, End: end})
}

// ClearRange marks [start,end) as free, splitting any run that
// straddles the boundary.
func (b *Bitmap) ClearRange(start, end BlockNum) {
	b.init()
	if end <= start {
		return
	}
	overlapping := b.runs.SearchAll(func(k rcontainers.Native[BlockNum]) int {
		switch {
		case k.Val+1 <= start:
			return 1
		case k.Val >= end:
			return -1
		default:
			return 0
		}
	})
	for _, r := range overlapping {
		b.runs.Delete(
			rcontainers.Native[BlockNum]{Val: r.Start},
			rcontainers.Native[BlockNum]{Val: r.End - 1},
		)
		if r.Start < start {
			b.runs.Insert(run{Start: r.Start, End: start})
		}
		if r.End > end {
			b.runs.Insert(run{Start: end, End: r.End})
		}
	}
}

// Count returns the number of set bits.
func (b *Bitmap) Count() BlockNum {
	b.init()
	var n BlockNum
	b.runs.Range(func(r run) bool {
		n += r.End - r.Start
		return true
	})
	return n
}

// FreeCount returns the number of clear bits in [0, Size).
func (b *Bitmap) FreeCount() BlockNum {
	return b.Size - b.Count()
}

// Clone returns a deep copy.
func (b *Bitmap) Clone() *Bitmap {
	out := New(b.Size)
	b.init()
	b.runs.Range(func(r run) bool {
		out.runs.Insert(r)
		return true
	})
	return out
}

// Or sets every bit that is set in b or o (in place on b); used by
// the checker to reconcile `source ← source ∨ control` (spec.md
// §4.4) and by pass 4 to compute `new`.
func (b *Bitmap) Or(o *Bitmap) {
	o.init()
	o.runs.Range(func(r run) bool {
		b.SetRange(r.Start, r.End)
		return true
	})
}

// AndNot clears every bit in b that is set in o; used to build
// exclusion bitmaps like pass 1's `allocable ← ¬leaves ∧ ¬bad_unfm ∧
// ¬good_unfm ∧ ¬reserved`.
func (b *Bitmap) AndNot(o *Bitmap) {
	o.init()
	o.runs.Range(func(r run) bool {
		b.ClearRange(r.Start, r.End)
		return true
	})
}

// Equal reports whether b and o have the same set bits.
func (b *Bitmap) Equal(o *Bitmap) bool {
	if b.Size != o.Size {
		return false
	}
	var bRuns, oRuns []run
	b.init()
	o.init()
	b.runs.Range(func(r run) bool { bRuns = append(bRuns, r); return true })
	o.runs.Range(func(r run) bool { oRuns = append(oRuns, r); return true })
	if len(bRuns) != len(oRuns) {
		return false
	}
	for i := range bRuns {
		if bRuns[i] != oRuns[i] {
			return false
		}
	}
	return true
}

// LEq reports whether every bit set in b is also set in o
// (pointwise b ≤ o), the invariant spec.md §3 requires of `control`
// against `source` on a healthy filesystem.
func (b *Bitmap) LEq(o *Bitmap) bool {
	ok := true
	b.init()
	b.runs.Range(func(r run) bool {
		for n := r.Start; n < r.End; n++ {
			if !o.Test(n) {
				ok = false
				return false
			}
		}
		return true
	})
	return ok
}

// Expand grows the bitmap to a new, larger size; new blocks are
// clear.
func (b *Bitmap) Expand(newSize BlockNum) error {
	if newSize < b.Size {
		return fmt.Errorf("rbitmap: Expand: new size %d is smaller than current size %d", newSize, b.Size)
	}
	b.Size = newSize
	return nil
}

// Shrink shrinks the bitmap to a new, smaller size; it is an error
// for any block at or beyond newSize to still be set.
func (b *Bitmap) Shrink(newSize BlockNum) error {
	if newSize > b.Size {
		return fmt.Errorf("rbitmap: Shrink: new size %d is larger than current size %d", newSize, b.Size)
	}
	if _, ok := b.runs.Search(func(k rcontainers.Native[BlockNum]) int {
		if k.Val < newSize {
			return 1
		}
		return 0
	}); ok {
		return fmt.Errorf("rbitmap: Shrink: blocks at or beyond %d are still set", newSize)
	}
	b.Size = newSize
	return nil
}

// FirstClear finds the first clear bit at or after start, or returns
// ok=false if none remain before Size.  This backs new_blocknrs
// (spec.md §5: "finds n zero bits in allocable starting near start").
func (b *Bitmap) FirstClear(start BlockNum) (BlockNum, bool) {
	b.init()
	n := start
	for n < b.Size {
		r, ok := b.runs.Lookup(rcontainers.Native[BlockNum]{Val: n})
		if !ok {
			return n, true
		}
		n = r.End
	}
	return 0, false
}

// FirstClearRun finds the first run of n consecutive clear bits at
// or after start.
func (b *Bitmap) FirstClearRun(start BlockNum, n BlockNum) (BlockNum, bool) {
	cand := start
	for cand+n <= b.Size {
		free, ok := b.FirstClear(cand)
		if !ok {
			return 0, false
		}
		var run BlockNum
		for run < n && !b.Test(free+run) {
			run++
		}
		if run >= n {
			return free, true
		}
		cand = free + run + 1
	}
	return 0, false
}
