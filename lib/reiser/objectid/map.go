// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package objectid implements the ordered list of used-oid intervals
// described in spec.md §3 "ObjectIdMap": allocate/mark/test, with
// adjacent intervals merged on update.
package objectid

import (
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rcontainers"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

type oidKey = rcontainers.Native[reiserprim.ObjID]

// interval is a half-open [Start,End) span of in-use object ids.
type interval struct {
	Start, End reiserprim.ObjID
}

// Map is the on-disk-mirrored objectid allocator: a sorted,
// non-empty, strictly-ordered, non-adjacent list of used-id
// intervals.
type Map struct {
	tree rcontainers.IntervalTree[oidKey, interval]
	next reiserprim.ObjID
}

func New() *Map {
	m := &Map{next: reiserprim.ObjID(2)}
	m.init()
	return m
}

func (m *Map) init() {
	if m.tree.MinFn == nil {
		m.tree.MinFn = func(iv interval) oidKey { return oidKey{Val: iv.Start} }
		m.tree.MaxFn = func(iv interval) oidKey { return oidKey{Val: iv.End - 1} }
	}
}

// Test reports whether id is marked used.
func (m *Map) Test(id reiserprim.ObjID) bool {
	m.init()
	_, ok := m.tree.Lookup(oidKey{Val: id})
	return ok
}

// Mark records id as in-use, merging with any adjacent interval.
func (m *Map) Mark(id reiserprim.ObjID) {
	m.MarkRange(id, id+1)
}

// MarkRange records [start,end) as in-use.
func (m *Map) MarkRange(start, end reiserprim.ObjID) {
	m.init()
	if end <= start {
		return
	}
	for {
		absorbed := false
		for _, iv := range m.tree.SearchAll(func(k oidKey) int {
			switch {
			case k.Val+1 < start:
				return 1
			case k.Val > end:
				return -1
			default:
				return 0
			}
		}) {
			if iv.Start < start {
				start = iv.Start
			}
			if iv.End > end {
				end = iv.End
			}
			m.tree.Delete(oidKey{Val: iv.Start}, oidKey{Val: iv.End - 1})
			absorbed = true
		}
		if !absorbed {
			break
		}
	}
	m.tree.Insert(interval{Start: start, End: end})
	if end > m.next {
		m.next = end
	}
}

// Unmark clears id, splitting its interval if necessary.
func (m *Map) Unmark(id reiserprim.ObjID) {
	m.init()
	iv, ok := m.tree.Lookup(oidKey{Val: id})
	if !ok {
		return
	}
	m.tree.Delete(oidKey{Val: iv.Start}, oidKey{Val: iv.End - 1})
	if iv.Start < id {
		m.tree.Insert(interval{Start: iv.Start, End: id})
	}
	if id+1 < iv.End {
		m.tree.Insert(interval{Start: id + 1, End: iv.End})
	}
}

// Allocate returns a fresh, previously-unused object id and marks it
// used.  Used by pass-2 relocation (spec.md §4.7) to re-key an object
// that shares an oid with one already in the tree.
func (m *Map) Allocate() reiserprim.ObjID {
	m.init()
	for reiserprim.ObjID(m.next) == reiserprim.ReservedObjIDZero ||
		reiserprim.ObjID(m.next) == reiserprim.ReservedObjIDOne ||
		reiserprim.ObjID(m.next) == reiserprim.ReservedObjIDMax {
		m.next++
	}
	id := m.next
	m.Mark(id)
	return id
}

// Intervals returns the used intervals in ascending order, mostly
// for debugging/dumping.
func (m *Map) Intervals() []interval {
	m.init()
	var out []interval
	m.tree.Range(func(iv interval) bool {
		out = append(out, iv)
		return true
	})
	return out
}

func (iv interval) Len() reiserprim.ObjID { return iv.End - iv.Start }
