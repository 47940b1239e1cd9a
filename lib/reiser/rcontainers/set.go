// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcontainers

import (
	"fmt"
	"io"
	"sort"

	"git.lukeshu.com/go/lowmemjson"
)

// Set is an unordered set of T, used for things like the rebuilder's
// "good_unfm sightings this pass" bookkeeping.  It implements
// lowmemjson's Encodable/Decodable so it can be embedded directly in
// a stage dump.
type Set[T comparable] map[T]struct{}

var (
	_ lowmemjson.Encodable = Set[int]{}
	_ lowmemjson.Decodable = (*Set[int])(nil)
)

func NewSet[T comparable](values ...T) Set[T] {
	ret := make(Set[T], len(values))
	for _, v := range values {
		ret.Insert(v)
	}
	return ret
}

func (s Set[T]) Insert(v T)          { s[v] = struct{}{} }
func (s Set[T]) Delete(v T)          { delete(s, v) }
func (s Set[T]) Has(v T) bool        { _, ok := s[v]; return ok }
func (s Set[T]) Len() int            { return len(s) }

func (s Set[T]) InsertFrom(other Set[T]) {
	for v := range other {
		s[v] = struct{}{}
	}
}

func (s Set[T]) TakeOne() T {
	for v := range s {
		return v
	}
	var zero T
	return zero
}

func (s Set[T]) sortedKeys() []T {
	keys := make([]T, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
	return keys
}

func (s Set[T]) EncodeJSON(w io.Writer) error {
	return lowmemjson.Encode(w, s.sortedKeys())
}

func (s *Set[T]) DecodeJSON(r io.RuneScanner) error {
	c, _, _ := r.ReadRune()
	if c == 'n' {
		_, _, _ = r.ReadRune()
		_, _, _ = r.ReadRune()
		_, _, _ = r.ReadRune()
		*s = nil
		return nil
	}
	_ = r.UnreadRune()
	*s = Set[T]{}
	return lowmemjson.DecodeArray(r, func(r io.RuneScanner) error {
		var val T
		if err := lowmemjson.Decode(r, &val); err != nil {
			return err
		}
		(*s)[val] = struct{}{}
		return nil
	})
}
