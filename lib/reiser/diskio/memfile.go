// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import "fmt"

// MemFile is an in-memory File, used by tests across reiser/ that
// need a BlockReader/BlockWriter without touching the filesystem.
type MemFile[A ~int64] struct {
	NameStr string
	Dat     []byte
}

var _ File[PAddr] = (*MemFile[PAddr])(nil)

func NewMemFile[A ~int64](name string, size int) *MemFile[A] {
	return &MemFile[A]{NameStr: name, Dat: make([]byte, size)}
}

func (f *MemFile[A]) Name() string { return f.NameStr }
func (f *MemFile[A]) Size() A      { return A(len(f.Dat)) }
func (f *MemFile[A]) Close() error { return nil }

func (f *MemFile[A]) ReadAt(p []byte, off A) (int, error) {
	if off < 0 || int64(off) > int64(len(f.Dat)) {
		return 0, fmt.Errorf("diskio: ReadAt: offset %d out of range", off)
	}
	n := copy(p, f.Dat[off:])
	if n < len(p) {
		return n, fmt.Errorf("diskio: ReadAt: short read at offset %d", off)
	}
	return n, nil
}

func (f *MemFile[A]) WriteAt(p []byte, off A) (int, error) {
	end := int64(off) + int64(len(p))
	if end > int64(len(f.Dat)) {
		grown := make([]byte, end)
		copy(grown, f.Dat)
		f.Dat = grown
	}
	return copy(f.Dat[off:], p), nil
}
