/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 15:39:36 2017 mstenber
 * Last modified: Mon Oct 12 11:02:47 2026 mstenber
 * Edit time:     81 min
 *
 */

package fstest

import (
	"encoding/binary"

	"github.com/fingon/go-btrfsro/disk"
)

// InlineMax is the largest file AddFile stores inline.
const InlineMax = 2048

// FSTree is one filesystem tree (the top level FS_TREE or a subvolume).
type FSTree struct {
	ID uint64

	img       *Image
	items     map[disk.Key][]byte
	nextIno   uint64
	nextIndex map[uint64]uint64
}

func (self *FSTree) put(k disk.Key, data []byte) {
	self.items[k] = data
}

// PutItem adds (or replaces) a raw item.
func (self *FSTree) PutItem(k disk.Key, data []byte) {
	self.put(k, data)
}

func (self *FSTree) sortedItems() []itemData {
	return sortItems(self.items)
}

func (self *FSTree) putInode(ino uint64, mode uint32, size uint64) {
	self.put(disk.Key{ObjectID: ino, Type: disk.InodeItemKey}, inodeItem(mode, size, 1, self.img.Generation))
}

// link adds DIR_ITEM and DIR_INDEX entries for name in dir and
// returns the index used.
func (self *FSTree) link(dir uint64, name string, location disk.Key, ft uint8) uint64 {
	idx, ok := self.nextIndex[dir]
	if !ok {
		idx = 2
	}
	self.nextIndex[dir] = idx + 1
	e := dirEntry(location, ft, name, nil, self.img.Generation)
	hk := disk.Key{ObjectID: dir, Type: disk.DirItemKey, Offset: disk.NameHash([]byte(name))}
	self.put(hk, append(self.items[hk], e...))
	self.put(disk.Key{ObjectID: dir, Type: disk.DirIndexKey, Offset: idx}, e)
	return idx
}

// LinkCollision adds an entry under an explicit DIR_ITEM hash, for
// exercising lookups where the stored name does not match.
func (self *FSTree) LinkCollision(dir uint64, hash uint64, name string, ino uint64) {
	hk := disk.Key{ObjectID: dir, Type: disk.DirItemKey, Offset: hash}
	e := dirEntry(disk.Key{ObjectID: ino, Type: disk.InodeItemKey}, disk.FTRegFile, name, nil, self.img.Generation)
	self.put(hk, append(self.items[hk], e...))
}

func (self *FSTree) newInode(dir uint64, name string, mode uint32, size uint64, ft uint8) uint64 {
	ino := self.nextIno
	self.nextIno++
	self.putInode(ino, mode, size)
	idx := self.link(dir, name, disk.Key{ObjectID: ino, Type: disk.InodeItemKey}, ft)
	self.put(disk.Key{ObjectID: ino, Type: disk.InodeRefKey, Offset: dir}, inodeRef(idx, name))
	return ino
}

// Mkdir creates directory name in dir.
func (self *FSTree) Mkdir(dir uint64, name string) uint64 {
	return self.newInode(dir, name, disk.ModeDir|0755, 0, disk.FTDir)
}

// AddFile creates a regular file. Small contents are stored inline,
// larger ones in a single uncompressed extent.
func (self *FSTree) AddFile(dir uint64, name string, content []byte) uint64 {
	ino := self.newInode(dir, name, disk.ModeRegular|0644, uint64(len(content)), disk.FTRegFile)
	if len(content) == 0 {
		return ino
	}
	if len(content) <= InlineMax {
		self.AddExtent(ino, 0, Extent{Type: disk.FileExtentInline, Data: content, RAMBytes: uint64(len(content))})
		return ino
	}
	self.AddExtent(ino, 0, Extent{Type: disk.FileExtentReg, Data: content})
	return ino
}

// AddEmptyFile creates a regular file with the given size and no
// extents; AddExtent then fills it.
func (self *FSTree) AddEmptyFile(dir uint64, name string, size uint64) uint64 {
	return self.newInode(dir, name, disk.ModeRegular|0644, size, disk.FTRegFile)
}

// AddSymlink creates a symlink pointing at target.
func (self *FSTree) AddSymlink(dir uint64, name string, target string) uint64 {
	ino := self.newInode(dir, name, disk.ModeSymlink|0777, uint64(len(target)), disk.FTSymlink)
	self.AddExtent(ino, 0, Extent{Type: disk.FileExtentInline, Data: []byte(target), RAMBytes: uint64(len(target))})
	return ino
}

// SetXattr adds an extended attribute to ino.
func (self *FSTree) SetXattr(ino uint64, name string, value []byte) {
	k := disk.Key{ObjectID: ino, Type: disk.XattrItemKey, Offset: disk.NameHash([]byte(name))}
	e := dirEntry(disk.Key{}, disk.FTXattr, name, value, self.img.Generation)
	self.put(k, append(self.items[k], e...))
}

// Extent describes a file extent to add.
//
// Inline extents store Data in the item. Regular and prealloc extents
// store Data in freshly allocated chunk space, unless Hole is set
// (disk_bytenr 0). Zero DiskNumBytes/NumBytes/RAMBytes default to the
// sector-rounded length of Data.
type Extent struct {
	Type        uint8
	Compression uint8
	Data        []byte
	Hole        bool

	RAMBytes     uint64
	DiskNumBytes uint64
	Offset       uint64
	NumBytes     uint64
}

// AddExtent stores an EXTENT_DATA item at fileOffset of ino and returns
// the logical address of its data (0 for inline extents and holes).
func (self *FSTree) AddExtent(ino uint64, fileOffset uint64, x Extent) uint64 {
	e := newEnc(0x35 + len(x.Data))
	e.u64(self.img.Generation)
	if x.Type == disk.FileExtentInline {
		e.u64(x.RAMBytes)
		e.u8(x.Compression)
		e.u8(0)
		e.u16(0)
		e.u8(x.Type)
		e.bytes(x.Data)
		self.put(disk.Key{ObjectID: ino, Type: disk.ExtentDataKey, Offset: fileOffset}, e.b[:e.ofs])
		return 0
	}
	sector := uint64(self.img.SectorSize)
	rounded := (uint64(len(x.Data)) + sector - 1) / sector * sector
	if x.DiskNumBytes == 0 {
		x.DiskNumBytes = rounded
	}
	if x.NumBytes == 0 {
		x.NumBytes = rounded
	}
	if x.RAMBytes == 0 {
		x.RAMBytes = rounded
	}
	var addr uint64
	if !x.Hole {
		addr = self.img.allocate(x.DiskNumBytes, 0)
		self.img.WriteLogical(addr, x.Data)
	}
	e.u64(x.RAMBytes)
	e.u8(x.Compression)
	e.u8(0)
	e.u16(0)
	e.u8(x.Type)
	e.u64(addr)
	if x.Hole {
		e.u64(0)
	} else {
		e.u64(x.DiskNumBytes)
	}
	e.u64(x.Offset)
	e.u64(x.NumBytes)
	self.put(disk.Key{ObjectID: ino, Type: disk.ExtentDataKey, Offset: fileOffset}, e.b[:e.ofs])
	return addr
}

// enc is a little-endian writer over a fixed buffer.
type enc struct {
	b   []byte
	ofs int
}

func newEnc(n int) *enc {
	return &enc{b: make([]byte, n)}
}

func (self *enc) seek(ofs int) {
	self.ofs = ofs
}

func (self *enc) u8(v uint8) {
	self.b[self.ofs] = v
	self.ofs++
}

func (self *enc) u16(v uint16) {
	binary.LittleEndian.PutUint16(self.b[self.ofs:], v)
	self.ofs += 2
}

func (self *enc) u32(v uint32) {
	binary.LittleEndian.PutUint32(self.b[self.ofs:], v)
	self.ofs += 4
}

func (self *enc) u64(v uint64) {
	binary.LittleEndian.PutUint64(self.b[self.ofs:], v)
	self.ofs += 8
}

func (self *enc) bytes(v []byte) {
	copy(self.b[self.ofs:], v)
	self.ofs += len(v)
}

func (self *enc) key(k disk.Key) {
	self.u64(k.ObjectID)
	self.u8(k.Type)
	self.u64(k.Offset)
}

func inodeItem(mode uint32, size uint64, nlink uint32, gen uint64) []byte {
	e := newEnc(disk.InodeItemSize)
	e.u64(gen)
	e.u64(gen)
	e.u64(size)
	e.u64(size)
	e.u64(0)
	e.u32(nlink)
	e.u32(1000)
	e.u32(1000)
	e.u32(mode)
	e.u64(0)
	e.u64(0)
	e.u64(0)
	e.seek(0x70)
	for i := 0; i < 4; i++ {
		e.u64(uint64(1500000000 + i))
		e.u32(uint32(i))
	}
	return e.b
}

func inodeRef(index uint64, name string) []byte {
	e := newEnc(10 + len(name))
	e.u64(index)
	e.u16(uint16(len(name)))
	e.bytes([]byte(name))
	return e.b
}

func dirEntry(location disk.Key, ft uint8, name string, data []byte, gen uint64) []byte {
	e := newEnc(disk.KeySize + 13 + len(name) + len(data))
	e.key(location)
	e.u64(gen)
	e.u16(uint16(len(data)))
	e.u16(uint16(len(name)))
	e.u8(ft)
	e.bytes([]byte(name))
	e.bytes(data)
	return e.b
}

func rootRef(dir, seq uint64, name string) []byte {
	e := newEnc(18 + len(name))
	e.u64(dir)
	e.u64(seq)
	e.u16(uint16(len(name)))
	e.bytes([]byte(name))
	return e.b
}

// RootRef encodes a ROOT_REF/ROOT_BACKREF payload, for tests that
// build the root tree by hand.
func RootRef(dir, seq uint64, name string) []byte {
	return rootRef(dir, seq, name)
}
