// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package namehash

// Selector accumulates per-hash hit counts while pass 0 walks every
// directory item on the device, then picks a winner (spec.md §4.5:
// "the hash with the most hits; ties broken by superblock value,
// then R5").
type Selector struct {
	SuperblockHash Hash
	hits           map[Hash]int
}

func NewSelector(superblockHash Hash) *Selector {
	return &Selector{
		SuperblockHash: superblockHash,
		hits:           make(map[Hash]int),
	}
}

// Observe is called once per directory item all of whose entries
// matched a single candidate hash (spec.md: "a directory item where
// all names match a single hash h ... counts as a hit for h").
func (s *Selector) Observe(h Hash) {
	if h == HashUnknown {
		return
	}
	s.hits[h]++
}

// Detect tries every candidate hash against a directory's entries
// and returns the one under which every entry's name hashes to its
// recorded offset, or HashUnknown if none match (e.g. a too-old
// leaf dominated by mismatches, per spec.md §4.5).
func Detect(entries []Entry) Hash {
	for _, h := range All {
		allMatch := true
		for _, e := range entries {
			if GetHash(e.Offset) != Compute(h, e.Name)&(offsetMask>>7) {
				allMatch = false
				break
			}
		}
		if allMatch && len(entries) > 0 {
			return h
		}
	}
	return HashUnknown
}

// Entry is the minimal directory-entry shape Detect needs: the name
// and the recorded offset (hash+generation) to check it against.
type Entry struct {
	Name   []byte
	Offset uint64
}

// Winner picks the hash with the most observed hits, falling back to
// SuperblockHash, then R5, to break ties (spec.md §4.5).
func (s *Selector) Winner() Hash {
	best := HashUnknown
	bestCount := -1
	for _, h := range All {
		c := s.hits[h]
		if c > bestCount {
			best = h
			bestCount = c
		}
	}
	if bestCount <= 0 {
		if s.SuperblockHash != HashUnknown {
			return s.SuperblockHash
		}
		return HashR5
	}
	// Break ties in favor of the superblock's current hash, then
	// R5, matching the declared tie-break order.
	for _, h := range All {
		if s.hits[h] == bestCount {
			if h == s.SuperblockHash {
				return h
			}
		}
	}
	for _, h := range All {
		if s.hits[h] == bestCount && h == HashR5 {
			return h
		}
	}
	return best
}
