// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rcontainers provides the small set of generic ordered data
// structures (red-black tree, sorted map, interval tree, set) shared
// by the bitmap, objectid map, and rebuilder bookkeeping.  It mirrors
// the shape of the teacher's lib/containers package.
package rcontainers

import (
	"golang.org/x/exp/constraints"
)

// Ordered is anything with a three-way comparator; containers in
// this package are keyed by types satisfying it rather than by
// constraints.Ordered, so that composite keys (e.g. reiserprim.Key)
// can participate.
type Ordered[T any] interface {
	Cmp(T) int
}

// Native wraps any constraints.Ordered primitive type so it can be
// used as an Ordered key.
type Native[T constraints.Ordered] struct {
	Val T
}

func (a Native[T]) Cmp(b Native[T]) int {
	switch {
	case a.Val < b.Val:
		return -1
	case a.Val > b.Val:
		return 1
	default:
		return 0
	}
}

var _ Ordered[Native[int]] = Native[int]{}
