// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcontainers

import "fmt"

type color bool

const (
	black color = false
	red   color = true
)

// RBNode is one node of an RBTree.
type RBNode[V any] struct {
	Parent, Left, Right *RBNode[V]
	color               color
	Value               V
}

func (n *RBNode[V]) getColor() color {
	if n == nil {
		return black
	}
	return n.color
}

// RBTree is a red-black tree keyed by K, storing values V.  KeyFn
// extracts the key from a value; AttrFn, if set, is called bottom-up
// after any structural change so that augmented trees (e.g. an
// interval tree's subtree-max) can keep derived fields current.
type RBTree[K Ordered[K], V any] struct {
	KeyFn  func(V) K
	AttrFn func(*RBNode[V])
	root   *RBNode[V]
	length int
}

func (t *RBTree[K, V]) Len() int { return t.length }

// Walk visits every value in ascending key order.
func (t *RBTree[K, V]) Walk(fn func(*RBNode[V]) error) error {
	return t.root.walk(fn)
}

func (n *RBNode[V]) walk(fn func(*RBNode[V]) error) error {
	if n == nil {
		return nil
	}
	if err := n.Left.walk(fn); err != nil {
		return err
	}
	if err := fn(n); err != nil {
		return err
	}
	return n.Right.walk(fn)
}

// Search finds a node for which fn returns 0, using fn's sign to
// steer the descent (negative: go left, positive: go right).
func (t *RBTree[K, V]) Search(fn func(V) int) *RBNode[V] {
	node, _ := t.root.search(fn)
	return node
}

func (n *RBNode[V]) search(fn func(V) int) (exact, nearestParent *RBNode[V]) {
	var prev *RBNode[V]
	for n != nil {
		prev = n
		switch d := fn(n.Value); {
		case d < 0:
			n = n.Left
		case d > 0:
			n = n.Right
		default:
			return n, nil
		}
	}
	return nil, prev
}

func (t *RBTree[K, V]) exactKey(key K) func(V) int {
	return func(v V) int { return key.Cmp(t.KeyFn(v)) }
}

// Lookup returns the node for an exact key, or nil.
func (t *RBTree[K, V]) Lookup(key K) *RBNode[V] {
	return t.Search(t.exactKey(key))
}

func (n *RBNode[V]) min() *RBNode[V] {
	if n == nil {
		return nil
	}
	for n.Left != nil {
		n = n.Left
	}
	return n
}

func (n *RBNode[V]) max() *RBNode[V] {
	if n == nil {
		return nil
	}
	for n.Right != nil {
		n = n.Right
	}
	return n
}

func (t *RBTree[K, V]) Min() *RBNode[V] { return t.root.min() }
func (t *RBTree[K, V]) Max() *RBNode[V] { return t.root.max() }

func (t *RBTree[K, V]) Next(cur *RBNode[V]) *RBNode[V] { return cur.next() }
func (t *RBTree[K, V]) Prev(cur *RBNode[V]) *RBNode[V] { return cur.prev() }

func (cur *RBNode[V]) next() *RBNode[V] {
	if cur.Right != nil {
		return cur.Right.min()
	}
	child, parent := cur, cur.Parent
	for parent != nil && child == parent.Right {
		child, parent = parent, parent.Parent
	}
	return parent
}

func (cur *RBNode[V]) prev() *RBNode[V] {
	if cur.Left != nil {
		return cur.Left.max()
	}
	child, parent := cur, cur.Parent
	for parent != nil && child == parent.Left {
		child, parent = parent, parent.Parent
	}
	return parent
}

func (t *RBTree[K, V]) parentSlot(n *RBNode[V]) **RBNode[V] {
	switch {
	case n.Parent == nil:
		return &t.root
	case n.Parent.Left == n:
		return &n.Parent.Left
	case n.Parent.Right == n:
		return &n.Parent.Right
	default:
		panic(fmt.Errorf("rcontainers: node %p is not a child of its parent %p", n, n.Parent))
	}
}

func (t *RBTree[K, V]) updateAttr(n *RBNode[V]) {
	if t.AttrFn == nil {
		return
	}
	for n != nil {
		t.AttrFn(n)
		n = n.Parent
	}
}

func (t *RBTree[K, V]) rotateLeft(x *RBNode[V]) {
	p := x.Parent
	slot := t.parentSlot(x)
	y := x.Right
	b := y.Left

	y.Parent = p
	*slot = y

	x.Parent = y
	y.Left = x

	if b != nil {
		b.Parent = x
	}
	x.Right = b

	t.updateAttr(x)
}

func (t *RBTree[K, V]) rotateRight(y *RBNode[V]) {
	p := y.Parent
	slot := t.parentSlot(y)
	x := y.Left
	b := x.Right

	x.Parent = p
	*slot = x

	y.Parent = x
	x.Right = y

	if b != nil {
		b.Parent = y
	}
	y.Left = b

	t.updateAttr(y)
}

// Insert adds val, replacing any existing value with the same key.
func (t *RBTree[K, V]) Insert(val V) {
	key := t.KeyFn(val)
	exact, parent := t.root.search(t.exactKey(key))
	if exact != nil {
		exact.Value = val
		t.updateAttr(exact)
		return
	}
	t.length++

	node := &RBNode[V]{Parent: parent, color: red, Value: val}
	switch {
	case parent == nil:
		t.root = node
	case key.Cmp(t.KeyFn(parent.Value)) < 0:
		parent.Left = node
	default:
		parent.Right = node
	}
	t.updateAttr(node)

	// CLRS 3e RB-INSERT-FIXUP.
	for node.Parent.getColor() == red {
		gp := node.Parent.Parent
		if node.Parent == gp.Left {
			uncle := gp.Right
			if uncle.getColor() == red {
				node.Parent.color = black
				uncle.color = black
				gp.color = red
				node = gp
				continue
			}
			if node == node.Parent.Right {
				node = node.Parent
				t.rotateLeft(node)
			}
			node.Parent.color = black
			node.Parent.Parent.color = red
			t.rotateRight(node.Parent.Parent)
		} else {
			uncle := gp.Left
			if uncle.getColor() == red {
				node.Parent.color = black
				uncle.color = black
				gp.color = red
				node = gp
				continue
			}
			if node == node.Parent.Left {
				node = node.Parent
				t.rotateRight(node)
			}
			node.Parent.color = black
			node.Parent.Parent.color = red
			t.rotateLeft(node.Parent.Parent)
		}
	}
	t.root.color = black
}

func (t *RBTree[K, V]) transplant(old, new *RBNode[V]) {
	*t.parentSlot(old) = new
	if new != nil {
		new.Parent = old.Parent
	}
}

// Delete removes the value with the given key, if any.
func (t *RBTree[K, V]) Delete(key K) {
	victim := t.Lookup(key)
	if victim == nil {
		return
	}
	t.length--

	var fixupNode, fixupParent *RBNode[V]
	needsFixup := victim.color == black

	switch {
	case victim.Left == nil:
		fixupNode, fixupParent = victim.Right, victim.Parent
		t.transplant(victim, victim.Right)
	case victim.Right == nil:
		fixupNode, fixupParent = victim.Left, victim.Parent
		t.transplant(victim, victim.Left)
	default:
		// victim has two children; splice in its in-order
		// successor in its place.  Two shapes depending on
		// whether the successor is victim's immediate right
		// child or further down that subtree.
		succ := victim.next()
		if succ.Parent == victim {
			fixupNode, fixupParent = succ.Right, succ

			*t.parentSlot(victim) = succ
			succ.Parent = victim.Parent

			succ.Left = victim.Left
			succ.Left.Parent = succ
		} else {
			y := succ.Parent
			b := succ.Right
			fixupNode, fixupParent = b, y

			y.Left = b
			if b != nil {
				b.Parent = y
			}

			*t.parentSlot(victim) = succ
			succ.Parent = victim.Parent

			succ.Left = victim.Left
			succ.Left.Parent = succ

			succ.Right = victim.Right
			succ.Right.Parent = succ
		}

		needsFixup = succ.color == black
		succ.color = victim.color
	}
	t.updateAttr(fixupParent)

	if !needsFixup {
		return
	}
	node, parent := fixupNode, fixupParent
	for node != t.root && node.getColor() == black {
		if parent == nil {
			break
		}
		if node == parent.Left {
			sib := parent.Right
			if sib.getColor() == red {
				sib.color = black
				parent.color = red
				t.rotateLeft(parent)
				sib = parent.Right
			}
			if sib.Left.getColor() == black && sib.Right.getColor() == black {
				sib.color = red
				node, parent = parent, parent.Parent
				continue
			}
			if sib.Right.getColor() == black {
				sib.Left.color = black
				sib.color = red
				t.rotateRight(sib)
				sib = parent.Right
			}
			sib.color = parent.color
			parent.color = black
			sib.Right.color = black
			t.rotateLeft(parent)
			node, parent = t.root, nil
		} else {
			sib := parent.Left
			if sib.getColor() == red {
				sib.color = black
				parent.color = red
				t.rotateRight(parent)
				sib = parent.Left
			}
			if sib.Right.getColor() == black && sib.Left.getColor() == black {
				sib.color = red
				node, parent = parent, parent.Parent
				continue
			}
			if sib.Left.getColor() == black {
				sib.Right.color = black
				sib.color = red
				t.rotateLeft(sib)
				sib = parent.Left
			}
			sib.color = parent.color
			parent.color = black
			sib.Left.color = black
			t.rotateRight(parent)
			node, parent = t.root, nil
		}
	}
	if node != nil {
		node.color = black
	}
}
