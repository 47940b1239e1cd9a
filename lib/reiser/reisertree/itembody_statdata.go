// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package reisertree

import (
	"encoding/binary"

	"github.com/lukeshu/reiserfsck-ng/lib/reiser/reiserprim"
)

// StatDataV2Size is the size of a v2-format stat-data item body.
const StatDataV2Size = 44

// StatData is the metadata item every filesystem object has exactly
// one of (spec.md §3 "Stat data").  RdevOrFirstDirectByte is
// overloaded per spec.md §9: for device files it's the rdev; for v1
// regular files it's the first-direct-byte advisory hint.
type StatData struct {
	Format                reiserprim.KeyFormat
	Mode                  uint16
	NLink                 uint32
	UID                    uint32
	GID                    uint32
	Size                  uint64
	ATime, MTime, CTime   uint32
	Blocks                uint32
	RdevOrFirstDirectByte uint32
}

func (StatData) Type() reiserprim.ItemType { return reiserprim.TypeStatData }

func (sd StatData) Len() int {
	if sd.Format == reiserprim.FormatV1 {
		return 40
	}
	return StatDataV2Size
}

func (sd StatData) Marshal() []byte {
	if sd.Format == reiserprim.FormatV1 {
		buf := make([]byte, 40)
		binary.LittleEndian.PutUint16(buf[0:2], sd.Mode)
		binary.LittleEndian.PutUint16(buf[2:4], uint16(sd.NLink))
		binary.LittleEndian.PutUint16(buf[4:6], uint16(sd.UID))
		binary.LittleEndian.PutUint16(buf[6:8], uint16(sd.GID))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(sd.Size))
		binary.LittleEndian.PutUint32(buf[12:16], sd.ATime)
		binary.LittleEndian.PutUint32(buf[16:20], sd.MTime)
		binary.LittleEndian.PutUint32(buf[20:24], sd.CTime)
		binary.LittleEndian.PutUint32(buf[24:28], sd.Blocks)
		binary.LittleEndian.PutUint32(buf[28:32], sd.RdevOrFirstDirectByte)
		return buf
	}
	buf := make([]byte, StatDataV2Size)
	binary.LittleEndian.PutUint16(buf[0:2], sd.Mode)
	binary.LittleEndian.PutUint32(buf[4:8], sd.NLink)
	binary.LittleEndian.PutUint32(buf[8:12], sd.UID)
	binary.LittleEndian.PutUint64(buf[12:20], sd.Size)
	binary.LittleEndian.PutUint32(buf[20:24], sd.GID)
	binary.LittleEndian.PutUint32(buf[24:28], sd.MTime)
	binary.LittleEndian.PutUint32(buf[28:32], sd.ATime)
	binary.LittleEndian.PutUint32(buf[32:36], sd.CTime)
	binary.LittleEndian.PutUint32(buf[36:40], sd.Blocks)
	binary.LittleEndian.PutUint32(buf[40:44], sd.RdevOrFirstDirectByte)
	return buf
}

func UnmarshalStatData(format reiserprim.KeyFormat, buf []byte) (StatData, error) {
	sd := StatData{Format: format}
	if format == reiserprim.FormatV1 {
		if len(buf) < 40 {
			return sd, errShortBuffer("stat-data v1", 40, len(buf))
		}
		sd.Mode = binary.LittleEndian.Uint16(buf[0:2])
		sd.NLink = uint32(binary.LittleEndian.Uint16(buf[2:4]))
		sd.UID = uint32(binary.LittleEndian.Uint16(buf[4:6]))
		sd.GID = uint32(binary.LittleEndian.Uint16(buf[6:8]))
		sd.Size = uint64(binary.LittleEndian.Uint32(buf[8:12]))
		sd.ATime = binary.LittleEndian.Uint32(buf[12:16])
		sd.MTime = binary.LittleEndian.Uint32(buf[16:20])
		sd.CTime = binary.LittleEndian.Uint32(buf[20:24])
		sd.Blocks = binary.LittleEndian.Uint32(buf[24:28])
		sd.RdevOrFirstDirectByte = binary.LittleEndian.Uint32(buf[28:32])
		return sd, nil
	}
	if len(buf) < StatDataV2Size {
		return sd, errShortBuffer("stat-data v2", StatDataV2Size, len(buf))
	}
	sd.Mode = binary.LittleEndian.Uint16(buf[0:2])
	sd.NLink = binary.LittleEndian.Uint32(buf[4:8])
	sd.UID = binary.LittleEndian.Uint32(buf[8:12])
	sd.Size = binary.LittleEndian.Uint64(buf[12:20])
	sd.GID = binary.LittleEndian.Uint32(buf[20:24])
	sd.MTime = binary.LittleEndian.Uint32(buf[24:28])
	sd.ATime = binary.LittleEndian.Uint32(buf[28:32])
	sd.CTime = binary.LittleEndian.Uint32(buf[32:36])
	sd.Blocks = binary.LittleEndian.Uint32(buf[36:40])
	sd.RdevOrFirstDirectByte = binary.LittleEndian.Uint32(buf[40:44])
	return sd, nil
}

func (sd StatData) IsDir() bool    { return reiserprim.IsDir(sd.Mode) }
func (sd StatData) IsRegular() bool { return reiserprim.IsReg(sd.Mode) }
