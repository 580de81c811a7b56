/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct  6 13:05:19 2026 mstenber
 * Last modified: Fri Oct  9 10:02:40 2026 mstenber
 * Edit time:     97 min
 *
 */

package disk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	InodeItemSize    = 0xa0
	RootItemSize     = 0xef
	rootItemExtended = 0x127
	stripeSize       = 0x20
)

type Timespec struct {
	Sec  int64
	Nsec uint32
}

func (self Timespec) Time() time.Time {
	return time.Unix(self.Sec, int64(self.Nsec))
}

func decodeTimespec(c *Cursor) Timespec {
	return Timespec{Sec: c.I64(), Nsec: c.U32()}
}

type InodeItem struct {
	Generation uint64
	TransID    uint64
	Size       uint64
	NBytes     uint64
	BlockGroup uint64
	NLink      uint32
	UID        uint32
	GID        uint32
	Mode       uint32
	RDev       uint64
	Flags      uint64
	Sequence   uint64
	Atime      Timespec
	Ctime      Timespec
	Mtime      Timespec
	Otime      Timespec
}

func (self *InodeItem) IsDir() bool {
	return self.Mode&ModeTypeMask == ModeDir
}

func (self *InodeItem) IsSymlink() bool {
	return self.Mode&ModeTypeMask == ModeSymlink
}

func decodeInodeItem(c *Cursor) InodeItem {
	var i InodeItem
	i.Generation = c.U64()
	i.TransID = c.U64()
	i.Size = c.U64()
	i.NBytes = c.U64()
	i.BlockGroup = c.U64()
	i.NLink = c.U32()
	i.UID = c.U32()
	i.GID = c.U32()
	i.Mode = c.U32()
	i.RDev = c.U64()
	i.Flags = c.U64()
	i.Sequence = c.U64()
	c.Skip(0x20)
	i.Atime = decodeTimespec(c)
	i.Ctime = decodeTimespec(c)
	i.Mtime = decodeTimespec(c)
	i.Otime = decodeTimespec(c)
	return i
}

func DecodeInodeItem(b []byte) (InodeItem, error) {
	c := NewCursor(b)
	i := decodeInodeItem(c)
	if err := c.Err(); err != nil {
		return i, fmt.Errorf("inode item: %w", err)
	}
	return i, nil
}

// InodeRef links an inode to a name in its parent (key offset).
type InodeRef struct {
	Index uint64
	Name  []byte
}

// DecodeInodeRefs decodes all hard links packed into one item.
func DecodeInodeRefs(b []byte) ([]InodeRef, error) {
	var r []InodeRef
	c := NewCursor(b)
	for c.Remaining() > 0 {
		var ref InodeRef
		ref.Index = c.U64()
		n := int(c.U16())
		ref.Name = c.Bytes(n)
		if c.Err() != nil {
			break
		}
		r = append(r, ref)
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("inode ref: %w", err)
	}
	return r, nil
}

// InodeExtref is a hard link stored in the extended form, used when
// the names do not fit an INODE_REF item. Key offset is a hash.
type InodeExtref struct {
	Parent uint64
	Index  uint64
	Name   []byte
}

func DecodeInodeExtrefs(b []byte) ([]InodeExtref, error) {
	var r []InodeExtref
	c := NewCursor(b)
	for c.Remaining() > 0 {
		var ref InodeExtref
		ref.Parent = c.U64()
		ref.Index = c.U64()
		n := int(c.U16())
		ref.Name = c.Bytes(n)
		if c.Err() != nil {
			break
		}
		r = append(r, ref)
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("inode extref: %w", err)
	}
	return r, nil
}

// DirEntry is one entry of a DIR_ITEM, DIR_INDEX or XATTR_ITEM
// item. Location is the child's key: an INODE_ITEM key for files in
// the same tree, a ROOT_ITEM key for subvolumes. Xattrs carry their
// value in Data.
type DirEntry struct {
	Location Key
	TransID  uint64
	Type     uint8
	Name     []byte
	Data     []byte
}

// DecodeDirEntries decodes every entry in one item; hash collisions
// put several names under one key.
func DecodeDirEntries(b []byte) ([]DirEntry, error) {
	var r []DirEntry
	c := NewCursor(b)
	for c.Remaining() > 0 {
		var e DirEntry
		e.Location = c.Key()
		e.TransID = c.U64()
		dataLen := int(c.U16())
		nameLen := int(c.U16())
		e.Type = c.U8()
		e.Name = c.Bytes(nameLen)
		e.Data = c.Bytes(dataLen)
		if c.Err() != nil {
			break
		}
		r = append(r, e)
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("dir item: %w", err)
	}
	return r, nil
}

// ExtentData describes one file extent. Inline extents carry their
// (possibly compressed) bytes in Inline; the rest point at DiskBytenr
// (a logical address, 0 for holes).
type ExtentData struct {
	Generation    uint64
	RAMBytes      uint64
	Compression   uint8
	Encryption    uint8
	OtherEncoding uint16
	Type          uint8

	Inline []byte

	DiskBytenr   uint64
	DiskNumBytes uint64
	Offset       uint64
	NumBytes     uint64
}

// Len is the number of file bytes the extent covers.
func (self *ExtentData) Len() uint64 {
	if self.Type == FileExtentInline {
		return self.RAMBytes
	}
	return self.NumBytes
}

func DecodeExtentData(b []byte) (ExtentData, error) {
	var e ExtentData
	c := NewCursor(b)
	e.Generation = c.U64()
	e.RAMBytes = c.U64()
	e.Compression = c.U8()
	e.Encryption = c.U8()
	e.OtherEncoding = c.U16()
	e.Type = c.U8()
	switch e.Type {
	case FileExtentInline:
		e.Inline = c.Bytes(c.Remaining())
	case FileExtentReg, FileExtentPrealloc:
		e.DiskBytenr = c.U64()
		e.DiskNumBytes = c.U64()
		e.Offset = c.U64()
		e.NumBytes = c.U64()
	default:
		return e, fmt.Errorf("%w: extent type %d", ErrCorrupt, e.Type)
	}
	if err := c.Err(); err != nil {
		return e, fmt.Errorf("extent data: %w", err)
	}
	return e, nil
}

// RootItem describes one tree in the root tree.
type RootItem struct {
	Inode        InodeItem
	Generation   uint64
	RootDirID    uint64
	Bytenr       uint64
	ByteLimit    uint64
	BytesUsed    uint64
	LastSnapshot uint64
	Flags        uint64
	Refs         uint32
	DropProgress Key
	DropLevel    uint8
	Level        uint8

	// Only valid if the item is the extended kind (HasUUID).
	HasUUID    bool
	UUID       uuid.UUID
	ParentUUID uuid.UUID
}

func DecodeRootItem(b []byte) (RootItem, error) {
	var r RootItem
	c := NewCursor(b)
	r.Inode = decodeInodeItem(c)
	r.Generation = c.U64()
	r.RootDirID = c.U64()
	r.Bytenr = c.U64()
	r.ByteLimit = c.U64()
	r.BytesUsed = c.U64()
	r.LastSnapshot = c.U64()
	r.Flags = c.U64()
	r.Refs = c.U32()
	r.DropProgress = c.Key()
	r.DropLevel = c.U8()
	r.Level = c.U8()
	if err := c.Err(); err != nil {
		return r, fmt.Errorf("root item: %w", err)
	}
	if len(b) >= rootItemExtended {
		genV2 := c.U64()
		c.Copy(r.UUID[:])
		c.Copy(r.ParentUUID[:])
		// generation_v2 != generation means an old kernel touched
		// the item and the extended part is stale.
		r.HasUUID = c.Err() == nil && genV2 == r.Generation
	}
	return r, nil
}

// RootRef is the payload of ROOT_REF (parent -> child) and
// ROOT_BACKREF (child -> parent) items; the key carries the ids.
type RootRef struct {
	DirID    uint64
	Sequence uint64
	Name     []byte
}

func DecodeRootRef(b []byte) (RootRef, error) {
	var r RootRef
	c := NewCursor(b)
	r.DirID = c.U64()
	r.Sequence = c.U64()
	n := int(c.U16())
	r.Name = c.Bytes(n)
	if err := c.Err(); err != nil {
		return r, fmt.Errorf("root ref: %w", err)
	}
	return r, nil
}

type Stripe struct {
	DevID   uint64
	Offset  uint64
	DevUUID uuid.UUID
}

// Chunk maps [key.offset, key.offset+Size) of logical space onto
// device stripes.
type Chunk struct {
	Size       uint64
	Owner      uint64
	StripeLen  uint64
	Type       uint64
	IOAlign    uint32
	IOWidth    uint32
	SectorSize uint32
	SubStripes uint16
	Stripes    []Stripe
}

func decodeChunk(c *Cursor) Chunk {
	var ch Chunk
	ch.Size = c.U64()
	ch.Owner = c.U64()
	ch.StripeLen = c.U64()
	ch.Type = c.U64()
	ch.IOAlign = c.U32()
	ch.IOWidth = c.U32()
	ch.SectorSize = c.U32()
	n := int(c.U16())
	ch.SubStripes = c.U16()
	if n > c.Remaining()/stripeSize {
		// let the cursor produce the error
		c.Skip(n * stripeSize)
		return ch
	}
	ch.Stripes = make([]Stripe, n)
	for i := range ch.Stripes {
		ch.Stripes[i].DevID = c.U64()
		ch.Stripes[i].Offset = c.U64()
		c.Copy(ch.Stripes[i].DevUUID[:])
	}
	return ch
}

func DecodeChunk(b []byte) (Chunk, error) {
	c := NewCursor(b)
	ch := decodeChunk(c)
	if err := c.Err(); err != nil {
		return ch, fmt.Errorf("chunk item: %w", err)
	}
	if len(ch.Stripes) == 0 {
		return ch, fmt.Errorf("%w: chunk without stripes", ErrCorrupt)
	}
	return ch, nil
}
