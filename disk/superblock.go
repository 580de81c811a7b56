/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct  6 12:20:41 2026 mstenber
 * Last modified: Thu Oct  8 11:48:02 2026 mstenber
 * Edit time:     61 min
 *
 */

package disk

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

const (
	SuperblockSize = 0x1000
	Magic          = "_BHRfS_M"

	labelSize           = 0x100
	sysChunkArrayOffset = 0x32b
	sysChunkArrayMax    = 0x800
	DevItemSize         = 0x62
)

// SuperblockOffsets are the physical locations of the primary copy
// and the backups; a copy only exists if the device is big enough.
var SuperblockOffsets = []uint64{0x10000, 0x4000000, 0x4000000000, 0x4000000000000}

// DevItem describes one member device.
type DevItem struct {
	DevID       uint64
	TotalBytes  uint64
	BytesUsed   uint64
	IOAlign     uint32
	IOWidth     uint32
	SectorSize  uint32
	Type        uint64
	Generation  uint64
	StartOffset uint64
	DevGroup    uint32
	SeekSpeed   uint8
	Bandwidth   uint8
	UUID        uuid.UUID
	FSID        uuid.UUID
}

func decodeDevItem(c *Cursor) DevItem {
	var d DevItem
	d.DevID = c.U64()
	d.TotalBytes = c.U64()
	d.BytesUsed = c.U64()
	d.IOAlign = c.U32()
	d.IOWidth = c.U32()
	d.SectorSize = c.U32()
	d.Type = c.U64()
	d.Generation = c.U64()
	d.StartOffset = c.U64()
	d.DevGroup = c.U32()
	d.SeekSpeed = c.U8()
	d.Bandwidth = c.U8()
	c.Copy(d.UUID[:])
	c.Copy(d.FSID[:])
	return d
}

func DecodeDevItem(b []byte) (DevItem, error) {
	c := NewCursor(b)
	d := decodeDevItem(c)
	return d, c.Err()
}

type Superblock struct {
	Csum                [CsumSize]byte
	FSID                uuid.UUID
	Bytenr              uint64
	Flags               uint64
	Magic               [8]byte
	Generation          uint64
	Root                uint64
	ChunkRoot           uint64
	LogRoot             uint64
	LogRootTransID      uint64
	TotalBytes          uint64
	BytesUsed           uint64
	RootDirObjectID     uint64
	NumDevices          uint64
	SectorSize          uint32
	NodeSize            uint32
	LeafSize            uint32
	StripeSize          uint32
	SysChunkArraySize   uint32
	ChunkRootGeneration uint64
	CompatFlags         uint64
	CompatROFlags       uint64
	IncompatFlags       uint64
	CsumType            uint16
	RootLevel           uint8
	ChunkRootLevel      uint8
	LogRootLevel        uint8
	DevItem             DevItem
	Label               string
	SysChunkArray       []byte

	// Raw is the 4096 bytes the superblock was decoded from.
	Raw []byte
}

// DecodeSuperblock decodes fields only; magic and checksum are
// checked by the caller (see CheckMagic and VerifyBlock).
func DecodeSuperblock(b []byte) (*Superblock, error) {
	if len(b) < SuperblockSize {
		return nil, fmt.Errorf("%w: superblock of %d bytes", ErrShortBuffer, len(b))
	}
	sb := &Superblock{Raw: b[:SuperblockSize]}
	c := NewCursor(sb.Raw)
	c.Copy(sb.Csum[:])
	c.Copy(sb.FSID[:])
	sb.Bytenr = c.U64()
	sb.Flags = c.U64()
	c.Copy(sb.Magic[:])
	sb.Generation = c.U64()
	sb.Root = c.U64()
	sb.ChunkRoot = c.U64()
	sb.LogRoot = c.U64()
	sb.LogRootTransID = c.U64()
	sb.TotalBytes = c.U64()
	sb.BytesUsed = c.U64()
	sb.RootDirObjectID = c.U64()
	sb.NumDevices = c.U64()
	sb.SectorSize = c.U32()
	sb.NodeSize = c.U32()
	sb.LeafSize = c.U32()
	sb.StripeSize = c.U32()
	sb.SysChunkArraySize = c.U32()
	sb.ChunkRootGeneration = c.U64()
	sb.CompatFlags = c.U64()
	sb.CompatROFlags = c.U64()
	sb.IncompatFlags = c.U64()
	sb.CsumType = c.U16()
	sb.RootLevel = c.U8()
	sb.ChunkRootLevel = c.U8()
	sb.LogRootLevel = c.U8()
	sb.DevItem = decodeDevItem(c)
	label := c.Bytes(labelSize)
	if i := bytes.IndexByte(label, 0); i >= 0 {
		label = label[:i]
	}
	sb.Label = string(label)
	c.Seek(sysChunkArrayOffset)
	sb.SysChunkArray = c.Bytes(sysChunkArrayMax)
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("superblock: %w", err)
	}
	return sb, nil
}

func (self *Superblock) CheckMagic() bool {
	return string(self.Magic[:]) == Magic
}

// ChunkEntry is a chunk item together with its key; key offset is
// the logical start of the chunk.
type ChunkEntry struct {
	Key   Key
	Chunk Chunk
}

// SysChunks decodes the bootstrap chunk array embedded in the
// superblock: enough mapping to find the chunk tree.
func (self *Superblock) SysChunks() ([]ChunkEntry, error) {
	size := int(self.SysChunkArraySize)
	if size > len(self.SysChunkArray) {
		return nil, fmt.Errorf("%w: sys_chunk_array_size %d", ErrCorrupt, size)
	}
	var r []ChunkEntry
	c := NewCursor(self.SysChunkArray[:size])
	for c.Remaining() > 0 {
		k := c.Key()
		if c.Err() == nil && k.Type != ChunkItemKey {
			return nil, fmt.Errorf("%w: sys_chunk_array key %v", ErrCorrupt, k)
		}
		ch := decodeChunk(c)
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("sys_chunk_array: %w", err)
		}
		if len(ch.Stripes) == 0 {
			return nil, fmt.Errorf("%w: sys chunk %v without stripes", ErrCorrupt, k)
		}
		r = append(r, ChunkEntry{Key: k, Chunk: ch})
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("sys_chunk_array: %w", err)
	}
	return r, nil
}

// Serial is the volume serial number: the first four fsid bytes read
// little-endian.
func (self *Superblock) Serial() uint32 {
	f := self.FSID
	return uint32(f[0]) | uint32(f[1])<<8 | uint32(f[2])<<16 | uint32(f[3])<<24
}
