// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rollback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/diskio"
)

func TestReplayRestoresOriginalBytes(t *testing.T) {
	const blockSize = 512
	dev := diskio.NewMemFile[diskio.PAddr]("test", blockSize*4)

	original2 := bytesOf(blockSize, 0x11)
	original3 := bytesOf(blockSize, 0x22)
	_, err := dev.WriteAt(original2, diskio.PAddr(2*blockSize))
	require.NoError(t, err)
	_, err = dev.WriteAt(original3, diskio.PAddr(3*blockSize))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rollback.log")
	log, err := Create(path, blockSize)
	require.NoError(t, err)

	require.NoError(t, log.Append(2, original2))
	_, err = dev.WriteAt(bytesOf(blockSize, 0xAA), diskio.PAddr(2*blockSize))
	require.NoError(t, err)

	require.NoError(t, log.Append(3, original3))
	_, err = dev.WriteAt(bytesOf(blockSize, 0xBB), diskio.PAddr(3*blockSize))
	require.NoError(t, err)

	require.NoError(t, log.Close())

	require.NoError(t, Replay(path, dev))

	got2 := make([]byte, blockSize)
	_, err = dev.ReadAt(got2, diskio.PAddr(2*blockSize))
	require.NoError(t, err)
	assert.Equal(t, original2, got2)

	got3 := make([]byte, blockSize)
	_, err = dev.ReadAt(got3, diskio.PAddr(3*blockSize))
	require.NoError(t, err)
	assert.Equal(t, original3, got3)
}

func TestReplayRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-rollback-log")
	require.NoError(t, os.WriteFile(path, []byte("not a rollback file at all"), 0o644))

	dev := diskio.NewMemFile[diskio.PAddr]("test", 4096)
	err := Replay(path, dev)
	assert.Error(t, err)
}

func bytesOf(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}
