// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package objectid

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

func TestMarkMerge(t *testing.T) {
	m := New()
	m.Mark(10)
	m.Mark(11)
	m.Mark(12)
	assert.True(t, m.Test(11))
	assert.False(t, m.Test(13))
	ivs := m.Intervals()
	if assert.Len(t, ivs, 1) {
		assert.Equal(t, reiserprim.ObjID(10), ivs[0].Start)
		assert.Equal(t, reiserprim.ObjID(13), ivs[0].End)
	}
}

func TestUnmarkSplit(t *testing.T) {
	m := New()
	m.MarkRange(10, 20)
	m.Unmark(15)
	assert.False(t, m.Test(15))
	assert.True(t, m.Test(14))
	assert.True(t, m.Test(16))
	assert.Len(t, m.Intervals(), 2)
}

func TestAllocateAvoidsReserved(t *testing.T) {
	m := New()
	id := m.Allocate()
	assert.NotEqual(t, reiserprim.ObjID(0), id)
	assert.NotEqual(t, reiserprim.ObjID(1), id)
	assert.True(t, m.Test(id))
}
