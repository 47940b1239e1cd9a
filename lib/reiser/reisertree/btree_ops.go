// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import (
	"fmt"
	"sort"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

// BlockReader is the minimal block-device view TreeOps needs: random
// reads of fixed-size blocks by address. bufcache.Cache satisfies
// this.
type BlockReader interface {
	ReadBlock(BlockNum) ([]byte, error)
	BlockSize() BlockSize
}

// SearchByKey descends from root per spec.md §4.3: at each internal
// block it finds pos such that key[pos-1] ≤ k < key[pos], and
// descends to child[pos]; on the leaf it reports whether k was
// found, and if not, the position k would be inserted at.
func SearchByKey(r BlockReader, root BlockNum, k reiserprim.Key) (Path, error) {
	var path Path
	cur := root
	for {
		buf, err := r.ReadBlock(cur)
		if err != nil {
			return Path{}, fmt.Errorf("reisertree: search_by_key: reading block %d: %w", cur, err)
		}
		kind := Classify(buf, r.BlockSize())
		if kind == KindLeaf {
			leaf, err := UnmarshalLeaf(buf, r.BlockSize())
			if err != nil {
				return Path{}, err
			}
			path.Elems = append(path.Elems, PathElem{Block: cur})
			path.Leaf = leaf
			pos := sort.Search(len(leaf.Items), func(i int) bool {
				return leaf.Items[i].Head.Key.Compare(k) >= 0
			})
			path.ItemPos = pos
			path.Found = pos < len(leaf.Items) && leaf.Items[pos].Head.Key.Compare(k) == 0
			return path, nil
		}
		if kind != KindInternal {
			return Path{}, fmt.Errorf("reisertree: search_by_key: block %d is not a tree node (kind=%s)", cur, kind)
		}
		node := UnmarshalInternal(buf)
		pos := sort.Search(len(node.Keys), func(i int) bool {
			return node.Keys[i].Compare(k) > 0
		})
		path.Elems = append(path.Elems, PathElem{Block: cur, Internal: node, ChildPos: pos})
		cur = node.Children[pos]
	}
}

// SearchByEntryKey is search_by_key specialized to directory-entry
// offset matching (spec.md §4.3): once the owning Directory item is
// located, it additionally returns the entry index matching offset.
func SearchByEntryKey(r BlockReader, root BlockNum, dirKey reiserprim.Key, offset uint64) (Path, int, bool, error) {
	path, err := SearchByKey(r, root, dirKey)
	if err != nil {
		return Path{}, 0, false, err
	}
	if !path.Found {
		return path, 0, false, nil
	}
	dir, ok := path.Leaf.Items[path.ItemPos].Body.(Directory)
	if !ok {
		return path, 0, false, fmt.Errorf("reisertree: search_by_entry_key: item is not a directory")
	}
	pos := sort.Search(len(dir.Entries), func(i int) bool {
		return dir.Entries[i].Offset >= offset
	})
	found := pos < len(dir.Entries) && dir.Entries[pos].Offset == offset
	return path, pos, found, nil
}

// ItemHeaderApproxSize is used by Mergeable as the "ih_size" term
// from spec.md §4.3's merge condition.
const ItemHeaderApproxSize = ItemHeaderSize

// ItemsMergeable reports whether two adjacent items belong to the
// same logical file at contiguous offsets, such that concatenating
// them collapses two item headers into one (spec.md §4.3: "same
// file, contiguous offsets").
func ItemsMergeable(last, first Item) bool {
	if last.Head.Key.DirID != first.Head.Key.DirID || last.Head.Key.ObjectID != first.Head.Key.ObjectID {
		return false
	}
	if last.Head.Key.GetType() != first.Head.Key.GetType() {
		return false
	}
	switch last.Head.Key.GetType() {
	case reiserprim.TypeDirect, reiserprim.TypeExtent:
		lastEnd := last.Head.Key.GetOffset() + uint64(last.Body.Len())
		return lastEnd == first.Head.Key.GetOffset()
	default:
		return false
	}
}

// Mergeable implements spec.md §4.3's leaf-merge condition: L and its
// right neighbor R may be merged into one leaf iff L has enough free
// space to absorb R's used bytes, crediting back one item-header's
// worth of space when the adjoining items collapse into one.
func Mergeable(l, rLeaf Leaf, blockSize BlockSize) bool {
	if len(l.Items) == 0 || len(rLeaf.Items) == 0 {
		return l.FreeSpace(blockSize) >= rLeaf.UsedBytes()+len(rLeaf.Items)*ItemHeaderSize
	}
	credit := 0
	if ItemsMergeable(l.Items[len(l.Items)-1], rLeaf.Items[0]) {
		credit = ItemHeaderApproxSize
	}
	need := rLeaf.UsedBytes() + len(rLeaf.Items)*ItemHeaderSize - credit
	return l.FreeSpace(blockSize) >= need
}

// InsertPointer is the pass-1 whole-leaf splice primitive (spec.md
// §4.3): installs child as a new leaf at ChildPos in parent, with
// delimKey as the new delimiting key separating it from its left
// sibling. The caller is responsible for verifying the balance
// condition and delimiting-key bounds before calling.
func InsertPointer(parent *Internal, pos int, delimKey reiserprim.Key, child BlockNum) {
	children := make([]BlockNum, 0, len(parent.Children)+1)
	children = append(children, parent.Children[:pos]...)
	children = append(children, child)
	children = append(children, parent.Children[pos:]...)
	parent.Children = children

	keyPos := pos
	if keyPos > 0 {
		keyPos--
	}
	keys := make([]reiserprim.Key, 0, len(parent.Keys)+1)
	keys = append(keys, parent.Keys[:keyPos]...)
	keys = append(keys, delimKey)
	keys = append(keys, parent.Keys[keyPos:]...)
	parent.Keys = keys

	parent.Head.NumItems = uint16(len(parent.Keys))
}
