// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rfsckerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityClassification(t *testing.T) {
	assert.Equal(t, Fatal, SeverityOf(KindTreeHeightMismatch))
	assert.Equal(t, Fixable, SeverityOf(KindBitmapMismatch))
	assert.Equal(t, Info, SeverityOf(KindZeroExtentPointer))
}

func TestProblemsHasFatal(t *testing.T) {
	var ps Problems
	ps.Add(New(KindBitmapMismatch, 10, "drift"))
	assert.False(t, ps.HasFatal())

	ps.Add(New(KindKeyOrderViolation, 11, "out of order"))
	assert.True(t, ps.HasFatal())

	counts := ps.CountBySeverity()
	assert.Equal(t, 1, counts[Fixable])
	assert.Equal(t, 1, counts[Fatal])
}
