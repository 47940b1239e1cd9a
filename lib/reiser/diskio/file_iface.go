// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package diskio provides the block-device abstraction every other
// reiser/ package reads and writes through: a generic File interface
// parameterized on its address type, with OS-file and in-memory
// implementations.
package diskio

import "io"

// PAddr is a byte offset into the underlying device.
type PAddr int64

// File is a random-access device, addressed by A (normally PAddr).
// Parameterizing on the address type lets higher layers that wrap a
// File in a stronger type (e.g. block numbers instead of byte
// offsets) do so without an adapter struct.
type File[A ~int64] interface {
	Name() string
	Size() A
	Close() error
	ReadAt(p []byte, off A) (n int, err error)
	WriteAt(p []byte, off A) (n int, err error)
}

var (
	_ io.WriterAt = File[int64](nil)
	_ io.ReaderAt = File[int64](nil)
)
