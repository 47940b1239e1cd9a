// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rbitmap

// EncodeRLE serializes the bitmap as spec.md §6's stage-dump bitmap
// format: the run lengths of alternating free/used spans, starting
// with a (possibly zero-length) free run. No separate count is
// stored; the number of runs is the slice's length.
func (b *Bitmap) EncodeRLE() []uint64 {
	b.init()
	var out []uint64
	var cursor BlockNum
	b.runs.Range(func(r run) bool {
		out = append(out, uint64(r.Start-cursor), uint64(r.End-r.Start))
		cursor = r.End
		return true
	})
	if cursor < b.Size {
		out = append(out, uint64(b.Size-cursor))
	}
	return out
}

// DecodeRLE reconstructs a Bitmap of the given size from run lengths
// produced by EncodeRLE.
func DecodeRLE(size BlockNum, lens []uint64) *Bitmap {
	b := New(size)
	cursor := BlockNum(0)
	for i, l := range lens {
		if i%2 == 1 {
			b.SetRange(cursor, cursor+BlockNum(l))
		}
		cursor += BlockNum(l)
	}
	return b
}
