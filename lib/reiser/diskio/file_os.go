// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"io"
	"os"
)

// OSFile adapts an *os.File to File.
type OSFile[A ~int64] struct {
	*os.File
}

var _ File[PAddr] = (*OSFile[PAddr])(nil)

func (f *OSFile[A]) Size() A {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0
	}
	return A(size)
}

func (f *OSFile[A]) ReadAt(dat []byte, off A) (int, error) {
	return f.File.ReadAt(dat, int64(off))
}

func (f *OSFile[A]) WriteAt(dat []byte, off A) (int, error) {
	return f.File.WriteAt(dat, int64(off))
}

// OpenRW opens path for reading and writing, without truncating or
// creating it, for use by the fix-fixable/rebuild-tree/rollback
// modes that mutate the device in place.
func OpenRW(path string) (*OSFile[PAddr], error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &OSFile[PAddr]{File: f}, nil
}

// OpenRO opens path read-only, for check mode and the FUSE mount
// command.
func OpenRO(path string) (*OSFile[PAddr], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &OSFile[PAddr]{File: f}, nil
}
