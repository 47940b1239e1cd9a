// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcontainers

// intervalKey is the [Min,Max] span covered by one value, or (when
// stored in an augmented node) the span covered by that node's whole
// subtree.
type intervalKey[K Ordered[K]] struct {
	Min, Max K
}

func (ival intervalKey[K]) containsFn(fn func(K) int) bool {
	return fn(ival.Min) >= 0 && fn(ival.Max) <= 0
}

func (a intervalKey[K]) Cmp(b intervalKey[K]) int {
	if d := a.Min.Cmp(b.Min); d != 0 {
		return d
	}
	return a.Max.Cmp(b.Max)
}

type intervalValue[K Ordered[K], V any] struct {
	Val            V
	spanOfChildren intervalKey[K]
}

// IntervalTree stores values that each occupy a [MinFn(v),MaxFn(v)]
// span, and supports point/interval containment queries in
// O(log n).  This backs Bitmap's used-run tracking and ObjectIdMap's
// interval list (spec.md §3).
type IntervalTree[K Ordered[K], V any] struct {
	MinFn func(V) K
	MaxFn func(V) K
	inner RBTree[intervalKey[K], intervalValue[K, V]]
}

func (t *IntervalTree[K, V]) keyFn(v intervalValue[K, V]) intervalKey[K] {
	return intervalKey[K]{Min: t.MinFn(v.Val), Max: t.MaxFn(v.Val)}
}

func (t *IntervalTree[K, V]) attrFn(node *RBNode[intervalValue[K, V]]) {
	maxV := t.MaxFn(node.Value.Val)
	minV := t.MinFn(node.Value.Val)
	if node.Left != nil {
		if node.Left.Value.spanOfChildren.Max.Cmp(maxV) > 0 {
			maxV = node.Left.Value.spanOfChildren.Max
		}
		if node.Left.Value.spanOfChildren.Min.Cmp(minV) < 0 {
			minV = node.Left.Value.spanOfChildren.Min
		}
	}
	if node.Right != nil {
		if node.Right.Value.spanOfChildren.Max.Cmp(maxV) > 0 {
			maxV = node.Right.Value.spanOfChildren.Max
		}
		if node.Right.Value.spanOfChildren.Min.Cmp(minV) < 0 {
			minV = node.Right.Value.spanOfChildren.Min
		}
	}
	node.Value.spanOfChildren.Max = maxV
	node.Value.spanOfChildren.Min = minV
}

func (t *IntervalTree[K, V]) init() {
	if t.inner.KeyFn == nil {
		t.inner.KeyFn = t.keyFn
		t.inner.AttrFn = t.attrFn
	}
}

func (t *IntervalTree[K, V]) Len() int { return t.inner.Len() }

func (t *IntervalTree[K, V]) Insert(val V) {
	t.init()
	t.inner.Insert(intervalValue[K, V]{Val: val})
}

func (t *IntervalTree[K, V]) Delete(min, max K) {
	t.init()
	t.inner.Delete(intervalKey[K]{Min: min, Max: max})
}

// Search returns the (unique, non-overlapping by construction) value
// whose span contains the point/range described by fn, per the same
// sign convention as RBTree.Search.
func (t *IntervalTree[K, V]) Search(fn func(K) int) (V, bool) {
	node := t.inner.root
	for node != nil {
		switch {
		case t.keyFn(node.Value).containsFn(fn):
			return node.Value.Val, true
		case node.Left != nil && node.Left.Value.spanOfChildren.containsFn(fn):
			node = node.Left
		case node.Right != nil && node.Right.Value.spanOfChildren.containsFn(fn):
			node = node.Right
		default:
			node = nil
		}
	}
	var zero V
	return zero, false
}

func (t *IntervalTree[K, V]) Lookup(k K) (V, bool) {
	return t.Search(k.Cmp)
}

func (t *IntervalTree[K, V]) searchAll(fn func(K) int, node *RBNode[intervalValue[K, V]], ret *[]V) {
	if node == nil || !node.Value.spanOfChildren.containsFn(fn) {
		return
	}
	t.searchAll(fn, node.Left, ret)
	if t.keyFn(node.Value).containsFn(fn) {
		*ret = append(*ret, node.Value.Val)
	}
	t.searchAll(fn, node.Right, ret)
}

// SearchAll returns every value whose span overlaps fn, in ascending
// order.
func (t *IntervalTree[K, V]) SearchAll(fn func(K) int) []V {
	var ret []V
	t.init()
	t.searchAll(fn, t.inner.root, &ret)
	return ret
}

// Range visits every value in ascending order of Min.
func (t *IntervalTree[K, V]) Range(fn func(V) bool) {
	t.init()
	_ = t.inner.Walk(func(node *RBNode[intervalValue[K, V]]) error {
		if !fn(node.Value.Val) {
			return errStopRange
		}
		return nil
	})
}
