// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import (
	"encoding/binary"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

// Extent is an array of u32 block pointers; a zero entry is a hole
// (spec.md §3 "Extent").
type Extent struct {
	Pointers []uint32
}

func (Extent) Type() reiserprim.ItemType { return reiserprim.TypeExtent }

func (e Extent) Len() int { return len(e.Pointers) * 4 }

func (e Extent) Marshal() []byte {
	buf := make([]byte, e.Len())
	for i, p := range e.Pointers {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], p)
	}
	return buf
}

func UnmarshalExtent(buf []byte) (Extent, error) {
	if len(buf)%4 != 0 {
		return Extent{}, errShortBuffer("extent (not a multiple of 4)", len(buf)-len(buf)%4+4, len(buf))
	}
	ptrs := make([]uint32, len(buf)/4)
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return Extent{Pointers: ptrs}, nil
}

// HoleCount returns the number of zero (hole) entries.
func (e Extent) HoleCount() int {
	n := 0
	for _, p := range e.Pointers {
		if p == 0 {
			n++
		}
	}
	return n
}

// IsHole reports whether pointer i addresses a hole.
func (e Extent) IsHole(i int) bool { return e.Pointers[i] == 0 }
