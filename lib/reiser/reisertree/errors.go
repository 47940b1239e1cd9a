// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import "fmt"

func errShortBuffer(what string, want, got int) error {
	return fmt.Errorf("reisertree: %s: need %d bytes, got %d", what, want, got)
}
