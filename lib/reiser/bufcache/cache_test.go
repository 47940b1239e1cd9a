// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package bufcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/diskio"
)

func TestReadWriteRoundTrip(t *testing.T) {
	dev := diskio.NewMemFile[diskio.PAddr]("test", 4096*4)
	c := New(dev, 4096, 16)

	require.NoError(t, c.WriteBlock(2, bytesOf(4096, 0xAB)))
	got, err := c.ReadBlock(2)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), got[0])

	require.NoError(t, c.Flush())
	rawBuf := make([]byte, 4096)
	_, err = dev.ReadAt(rawBuf, diskio.PAddr(2*4096))
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), rawBuf[0])
}

func TestWriteHookFiresOncePerDirtyTransition(t *testing.T) {
	dev := diskio.NewMemFile[diskio.PAddr]("test", 4096*4)
	c := New(dev, 4096, 16)

	var hookCalls int
	c.SetWriteHook(func(blk BlockNum, preimage []byte) error {
		hookCalls++
		return nil
	})

	require.NoError(t, c.WriteBlock(1, bytesOf(4096, 1)))
	require.NoError(t, c.WriteBlock(1, bytesOf(4096, 2)))
	assert.Equal(t, 1, hookCalls, "hook only fires on the clean->dirty transition")

	require.NoError(t, c.Flush())
	require.NoError(t, c.WriteBlock(1, bytesOf(4096, 3)))
	assert.Equal(t, 2, hookCalls, "flushing clears dirty, so the next write fires the hook again")
}

func bytesOf(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}
