// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rollback implements the append-only pre-image log every
// write during repair goes through first (spec.md §6.4, §7.3: "every
// block written during repair is first saved so the run can be
// fully undone"). Ordering is the whole of its correctness argument:
// a block's pre-image is appended before the new content ever
// reaches the device, and replay walks the log in reverse.
package rollback

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/diskio"
	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
)

// fileMagic tags a rollback file so Replay refuses to run against an
// unrelated file.
const fileMagic = "RFsckRB1"

// Log is an append-only rollback file: header (block size, record
// count) followed by {u32 block_number, blocksize-byte pre-image}
// records (spec.md §7.3 "Rollback file").
type Log struct {
	f         *os.File
	w         *bufio.Writer
	blockSize uint32
	count     uint32
	countOff  int64
}

// Create opens path for a fresh rollback log, truncating any
// existing contents (a prior, completed run's rollback file is no
// longer needed once that run finished cleanly).
func Create(path string, blockSize uint32) (*Log, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rollback: create %s: %w", path, err)
	}
	l := &Log{f: f, blockSize: blockSize}
	l.w = bufio.NewWriter(f)
	if _, err := l.w.WriteString(fileMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(l.w, binary.LittleEndian, blockSize); err != nil {
		return nil, err
	}
	l.countOff = int64(len(fileMagic) + 4)
	if err := binary.Write(l.w, binary.LittleEndian, l.count); err != nil {
		return nil, err
	}
	if err := l.w.Flush(); err != nil {
		return nil, err
	}
	return l, nil
}

// Append records blk's pre-image. Callers (bufcache's write hook)
// must call this before the corresponding write reaches the device.
func (l *Log) Append(blk rbitmap.BlockNum, preimage []byte) error {
	if uint32(len(preimage)) != l.blockSize {
		return fmt.Errorf("rollback: preimage for block %d is %d bytes, want %d", blk, len(preimage), l.blockSize)
	}
	if err := binary.Write(l.w, binary.LittleEndian, uint32(blk)); err != nil {
		return err
	}
	if _, err := l.w.Write(preimage); err != nil {
		return err
	}
	l.count++
	return nil
}

// Close flushes buffered records and rewrites the record-count field
// in the header, then closes the file.
func (l *Log) Close() error {
	if err := l.w.Flush(); err != nil {
		return err
	}
	if _, err := l.f.WriteAt(countBytes(l.count), l.countOff); err != nil {
		return err
	}
	return l.f.Close()
}

// Discard closes and removes the log, used when a run finishes
// cleanly and the rollback file is no longer needed.
func (l *Log) Discard(path string) error {
	if err := l.f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func countBytes(n uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, n)
	return buf
}

// Replay reads the rollback log at path and applies every pre-image
// to dev in reverse order, restoring dev to the state it was in
// before the recorded run began (spec.md §8 property "Rollback
// inverse": replay(R, apply(W, I)) = I byte-for-byte).
func Replay(path string, dev diskio.File[diskio.PAddr]) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rollback: open %s: %w", path, err)
	}
	defer f.Close()

	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return fmt.Errorf("rollback: reading header: %w", err)
	}
	if string(magic) != fileMagic {
		return fmt.Errorf("rollback: %s is not a reiserfsck rollback file", path)
	}
	var blockSize, count uint32
	if err := binary.Read(f, binary.LittleEndian, &blockSize); err != nil {
		return err
	}
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return err
	}

	recordSize := 4 + int64(blockSize)
	headerSize, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	for i := int64(count) - 1; i >= 0; i-- {
		recOff := headerSize + i*recordSize
		if _, err := f.Seek(recOff, io.SeekStart); err != nil {
			return err
		}
		var blk uint32
		if err := binary.Read(f, binary.LittleEndian, &blk); err != nil {
			return fmt.Errorf("rollback: reading record %d: %w", i, err)
		}
		preimage := make([]byte, blockSize)
		if _, err := io.ReadFull(f, preimage); err != nil {
			return fmt.Errorf("rollback: reading preimage %d: %w", i, err)
		}
		off := diskio.PAddr(uint64(blk) * uint64(blockSize))
		if _, err := dev.WriteAt(preimage, off); err != nil {
			return fmt.Errorf("rollback: restoring block %d: %w", blk, err)
		}
	}
	return nil
}
