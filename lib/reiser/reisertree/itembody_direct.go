// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import (
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

// Direct holds inline file-tail bytes (spec.md §3 "Direct": "length
// is the item length; v2 items are rounded up to a multiple of 8,
// with the remainder being non-data padding").
type Direct struct {
	Format reiserprim.KeyFormat
	Data   []byte
	// Padding is the v2 round-up slack at the end of Data, counted
	// separately so filewrite.go can tell the real byte count from
	// the on-disk allocation.
	Padding int
}

func (Direct) Type() reiserprim.ItemType { return reiserprim.TypeDirect }

func (d Direct) Len() int { return len(d.Data) + d.Padding }

func (d Direct) Marshal() []byte {
	buf := make([]byte, d.Len())
	copy(buf, d.Data)
	return buf
}

// UnmarshalDirect takes the full item-length on-disk buffer; for v2
// format, trailing zero padding up to the next multiple of 8 is
// folded into Padding rather than Data, per spec.md's direct-item
// rounding rule. v1 direct items carry no padding.
func UnmarshalDirect(format reiserprim.KeyFormat, buf []byte) Direct {
	if format == reiserprim.FormatV1 {
		data := make([]byte, len(buf))
		copy(data, buf)
		return Direct{Format: format, Data: data}
	}
	n := len(buf)
	round := (n + 7) &^ 7
	pad := round - n
	if pad == 0 {
		// An on-disk item already rounded up to 8: its trailing zero
		// bytes (at most 7) are the padding.
		for pad < 7 && n > 0 && buf[n-1] == 0 {
			n--
			pad++
		}
	}
	data := make([]byte, n)
	copy(data, buf[:n])
	return Direct{Format: format, Data: data, Padding: pad}
}
