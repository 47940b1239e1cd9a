// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reiserutil

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"git.lukeshu.com/go/lowmemjson"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/rbitmap"
)

// Stage tags a rebuild run's last completed pass, per spec.md §6:
// "start magic, stage tag... TREE_IS_BUILT, SEMANTIC_DONE,
// LOST_FOUND_DONE".
type Stage string

const (
	StagePass0Done      Stage = "PASS_0_DONE"
	StagePass1Done      Stage = "PASS_1_DONE"
	StageTreeIsBuilt     Stage = "TREE_IS_BUILT"
	StageSemanticDone    Stage = "SEMANTIC_DONE"
	StageLostFoundDone   Stage = "LOST_FOUND_DONE"
)

const (
	stageDumpStartMagic uint32 = 374033
	stageDumpEndMagic   uint32 = 7786470
)

// stageDumpBody is the JSON-serialized payload sandwiched between
// the binary start/end magics: every bitmap the rebuilder needs to
// resume from Stage, RLE-encoded via rbitmap.EncodeRLE.
type stageDumpBody struct {
	Stage      Stage
	BlockCount uint64
	RootBlock  uint64
	TreeHeight uint16
	Source     []uint64
	New        []uint64
	Leaves     []uint64
	GoodUnfm   []uint64
	BadUnfm    []uint64
	Allocable  []uint64
}

// WriteStageDump atomically (via rename-over) persists c's bitmaps
// tagged with stage, per spec.md §6: "each rebuilder pass writes the
// dump atomically via rename-over."
func WriteStageDump(path string, stage Stage, c *Context) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("reiserutil: creating stage dump: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, stageDumpStartMagic); err != nil {
		return err
	}

	body := stageDumpBody{
		Stage:      stage,
		BlockCount: c.BlockCount,
		RootBlock:  c.RootBlock,
		TreeHeight: c.TreeHeight,
		Source:     c.Source.EncodeRLE(),
		New:        c.New.EncodeRLE(),
		Leaves:     c.Leaves.EncodeRLE(),
		GoodUnfm:   c.GoodUnfm.EncodeRLE(),
		BadUnfm:    c.BadUnfm.EncodeRLE(),
		Allocable:  c.Allocable.EncodeRLE(),
	}
	cfg := lowmemjson.ReEncoderConfig{Out: w}
	if err := lowmemjson.Encode(&cfg, body); err != nil {
		return fmt.Errorf("reiserutil: encoding stage dump: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, stageDumpEndMagic); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// avoid the deferred Close firing twice
	f = nil //nolint:wastedassign

	return os.Rename(tmp, path)
}

// ReadStageDump loads a previously-written stage dump and
// repopulates an otherwise-fresh Context's bitmaps from it, so a
// rebuild run can resume from the recorded Stage instead of
// restarting pass 0.
func ReadStageDump(path string, c *Context) (Stage, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("reiserutil: opening stage dump: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var startMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &startMagic); err != nil {
		return "", err
	}
	if startMagic != stageDumpStartMagic {
		return "", fmt.Errorf("reiserutil: %s: bad start magic", path)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reiserutil: reading stage dump: %w", err)
	}
	if len(rest) < 4 {
		return "", fmt.Errorf("reiserutil: %s: truncated (missing end magic)", path)
	}
	jsonBytes, endMagicBytes := rest[:len(rest)-4], rest[len(rest)-4:]
	if binary.LittleEndian.Uint32(endMagicBytes) != stageDumpEndMagic {
		return "", fmt.Errorf("reiserutil: %s: bad end magic", path)
	}

	var body stageDumpBody
	if err := lowmemjson.DecodeThenEOF(bytes.NewReader(jsonBytes), &body); err != nil {
		return "", fmt.Errorf("reiserutil: decoding stage dump: %w", err)
	}

	size := rbitmap.BlockNum(body.BlockCount)
	c.BlockCount = body.BlockCount
	c.RootBlock = body.RootBlock
	c.TreeHeight = body.TreeHeight
	c.Source = rbitmap.DecodeRLE(size, body.Source)
	c.New = rbitmap.DecodeRLE(size, body.New)
	c.Leaves = rbitmap.DecodeRLE(size, body.Leaves)
	c.GoodUnfm = rbitmap.DecodeRLE(size, body.GoodUnfm)
	c.BadUnfm = rbitmap.DecodeRLE(size, body.BadUnfm)
	c.Allocable = rbitmap.DecodeRLE(size, body.Allocable)

	return body.Stage, nil
}
