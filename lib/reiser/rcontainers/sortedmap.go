// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcontainers

import "errors"

type kv[K Ordered[K], V any] struct {
	K K
	V V
}

// SortedMap is an ordered map keyed by K.  It replaces the "walk a
// slice/linked-list on every lookup" pattern used for the rebuilder's
// saved-item and relocation lists (see spec.md §9's design note on
// this).
type SortedMap[K Ordered[K], V any] struct {
	inner RBTree[K, kv[K, V]]
}

func (m *SortedMap[K, V]) init() {
	if m.inner.KeyFn == nil {
		m.inner.KeyFn = func(e kv[K, V]) K { return e.K }
	}
}

func (m *SortedMap[K, V]) Store(key K, value V) {
	m.init()
	m.inner.Insert(kv[K, V]{K: key, V: value})
}

func (m *SortedMap[K, V]) Delete(key K) {
	m.init()
	m.inner.Delete(key)
}

func (m *SortedMap[K, V]) Load(key K) (value V, ok bool) {
	m.init()
	node := m.inner.Lookup(key)
	if node == nil {
		var zero V
		return zero, false
	}
	return node.Value.V, true
}

func (m *SortedMap[K, V]) Len() int {
	return m.inner.Len()
}

// Range visits entries in ascending key order; return false to stop
// early.
var errStopRange = errors.New("rcontainers: stop range")

func (m *SortedMap[K, V]) Range(fn func(key K, value V) bool) {
	m.init()
	_ = m.inner.Walk(func(node *RBNode[kv[K, V]]) error {
		if !fn(node.Value.K, node.Value.V) {
			return errStopRange
		}
		return nil
	})
}
