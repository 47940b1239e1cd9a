// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import "github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"

// PathElem is one step from root to leaf: the block visited and the
// child-pointer index taken out of it (meaningless at the last,
// leaf, element).
type PathElem struct {
	Block    BlockNum
	Internal Internal // zero value at the leaf element
	ChildPos int
}

// Path is the root-to-leaf chain SearchByKey walks down, per
// spec.md §4.3. Elems[0] is the root; Elems[len-1] is the leaf.
type Path struct {
	Elems []PathElem
	Leaf  Leaf
	// ItemPos is the item index search_by_key found within Leaf:
	// either the matching item (Found) or the insertion position.
	ItemPos int
	Found   bool
}

// LeafBlock returns the block number the path's leaf was read from.
func (p Path) LeafBlock() BlockNum {
	return p.Elems[len(p.Elems)-1].Block
}

// Parent returns the internal block one level above the leaf, or
// false if the leaf is also the root.
func (p Path) Parent() (PathElem, bool) {
	if len(p.Elems) < 2 {
		return PathElem{}, false
	}
	return p.Elems[len(p.Elems)-2], true
}

// LeftDelimiter returns the key that must be ≤ every key in the
// path's leaf, if one exists (the leaf isn't the tree's leftmost).
func (p Path) LeftDelimiter() (reiserprim.Key, bool) {
	for i := len(p.Elems) - 2; i >= 0; i-- {
		pe := p.Elems[i]
		if pe.ChildPos > 0 {
			return pe.Internal.Keys[pe.ChildPos-1], true
		}
	}
	return reiserprim.Key{}, false
}

// RightDelimiter returns the key that must be > every key in the
// path's leaf, if one exists.
func (p Path) RightDelimiter() (reiserprim.Key, bool) {
	for i := len(p.Elems) - 2; i >= 0; i-- {
		pe := p.Elems[i]
		if pe.ChildPos < len(pe.Internal.Keys) {
			return pe.Internal.Keys[pe.ChildPos], true
		}
	}
	return reiserprim.Key{}, false
}
