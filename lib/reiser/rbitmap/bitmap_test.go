// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rbitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetClearBasic(t *testing.T) {
	b := New(100)
	b.Set(5)
	b.Set(6)
	b.Set(7)
	assert.True(t, b.Test(5))
	assert.True(t, b.Test(6))
	assert.False(t, b.Test(8))
	assert.Equal(t, BlockNum(3), b.Count())
	assert.Equal(t, BlockNum(97), b.FreeCount())

	b.Clear(6)
	assert.False(t, b.Test(6))
	assert.True(t, b.Test(5))
	assert.True(t, b.Test(7))
	assert.Equal(t, BlockNum(2), b.Count())
}

func TestSetRangeMerge(t *testing.T) {
	b := New(100)
	b.SetRange(0, 10)
	b.SetRange(10, 20)
	assert.Equal(t, BlockNum(20), b.Count())
	for i := BlockNum(0); i < 20; i++ {
		assert.True(t, b.Test(i), "block %d", i)
	}
}

func TestOrAndNot(t *testing.T) {
	a := New(20)
	a.SetRange(0, 5)
	b := New(20)
	b.SetRange(3, 10)

	union := a.Clone()
	union.Or(b)
	assert.Equal(t, BlockNum(10), union.Count())

	diff := b.Clone()
	diff.AndNot(a)
	assert.Equal(t, BlockNum(5), diff.Count())
	assert.False(t, diff.Test(3))
	assert.True(t, diff.Test(5))
}

func TestLEq(t *testing.T) {
	source := New(20)
	source.SetRange(0, 10)
	control := New(20)
	control.SetRange(2, 5)
	assert.True(t, control.LEq(source))

	control.Set(15)
	assert.False(t, control.LEq(source))
}

func TestFirstClear(t *testing.T) {
	b := New(10)
	b.SetRange(0, 5)
	n, ok := b.FirstClear(0)
	require.True(t, ok)
	assert.Equal(t, BlockNum(5), n)

	b.SetRange(5, 10)
	_, ok = b.FirstClear(0)
	assert.False(t, ok)
}

func TestRLERoundTrip(t *testing.T) {
	b := New(64)
	b.SetRange(4, 10)
	b.SetRange(20, 21)
	encoded := b.EncodeRLE()
	decoded := DecodeRLE(64, encoded)
	assert.True(t, b.Equal(decoded))
}

func TestShrinkExpand(t *testing.T) {
	b := New(10)
	b.Set(3)
	require.NoError(t, b.Expand(20))
	assert.Equal(t, BlockNum(20), b.Size)

	err := b.Shrink(3)
	assert.Error(t, err)

	require.NoError(t, b.Shrink(4))
	assert.Equal(t, BlockNum(4), b.Size)
}
