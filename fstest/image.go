/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 15:39:36 2017 mstenber
 * Last modified: Mon Oct 12 10:31:08 2026 mstenber
 * Edit time:     203 min
 *
 */

// fstest builds synthetic btrfs images in memory.
//
// Tests describe the filesystem (files, directories, subvolumes,
// extents of their choice) and Build lays out checksummed chunk, root
// and filesystem trees, superblock copies included, in a sparse
// device that can be handed to the real reader. Nothing is mounted.
package fstest

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fingon/go-btrfsro/disk"
	"github.com/google/uuid"
)

const pageSize = 4096

// Defaults of the single chunk every image has.
const (
	ChunkLogical  = 0x1000000
	ChunkPhysical = 0x100000
	ChunkSize     = 0x800000
)

// DeviceSize is large enough for the primary superblock and the
// chunk; images that want a backup copy grow as needed.
const DeviceSize = ChunkPhysical + ChunkSize

// Image is a btrfs filesystem under construction (and after Build, a
// device to read it from).
type Image struct {
	NodeSize   uint32
	SectorSize uint32
	CsumType   uint16
	Generation uint64
	Label      string
	FSID       uuid.UUID
	DevUUID    uuid.UUID
	ChunkUUID  uuid.UUID

	// Chunk type flags of the single chunk
	ChunkType uint64

	// MaxItemsPerNode, if set, limits both leaves and interior nodes
	// so that small trees become deep ones.
	MaxItemsPerNode int

	// DefaultSubvol is what the "default" entry of the root tree
	// directory points at; zero omits the entry.
	DefaultSubvol uint64

	// Set by Build
	RootTree   TreeRoot
	ChunkTree  TreeRoot
	Trees      map[uint64]TreeRoot
	BytesUsed  uint64
	TotalBytes uint64

	size    uint64
	pages   map[uint64][]byte
	alloc   uint64
	fsTrees map[uint64]*FSTree
	order   []uint64
	refs    []subvolRef
	extra   map[uint64][]itemData
}

// TreeRoot is where Build put a tree.
type TreeRoot struct {
	Bytenr uint64
	Level  uint8
}

type subvolRef struct {
	parentTree, parentDir, child, seq uint64
	name                               string
}

type itemData struct {
	key  disk.Key
	data []byte
}

// New returns an image with one filesystem tree (FS_TREE, 5)
// containing only the root directory.
func New() *Image {
	img := &Image{
		NodeSize:      4096,
		SectorSize:    4096,
		CsumType:      disk.CsumTypeCRC32C,
		Generation:    7,
		Label:         "testfs",
		FSID:          uuid.MustParse("5f1e6d3c-2b4a-4c8d-9e0f-112233445566"),
		DevUUID:       uuid.MustParse("0a0b0c0d-1111-2222-3333-444455556666"),
		ChunkUUID:     uuid.MustParse("99887766-5544-3322-1100-ffeeddccbbaa"),
		ChunkType:     disk.BlockGroupSystem | disk.BlockGroupMetadata | disk.BlockGroupData,
		DefaultSubvol: disk.FSTreeObjectID,
		size:          DeviceSize,
		pages:         make(map[uint64][]byte),
		alloc:         ChunkLogical,
		fsTrees:       make(map[uint64]*FSTree),
		extra:         make(map[uint64][]itemData),
	}
	img.newFSTree(disk.FSTreeObjectID)
	return img
}

// FSTree returns filesystem tree id (FS_TREE or a subvolume).
func (self *Image) FSTree(id uint64) *FSTree {
	return self.fsTrees[id]
}

// AddSubvolume creates a new filesystem tree and links it as name in
// directory dir of tree parent.
func (self *Image) AddSubvolume(parent *FSTree, dir uint64, name string, id uint64) *FSTree {
	t := self.newFSTree(id)
	seq := parent.link(dir, name, disk.Key{ObjectID: id, Type: disk.RootItemKey, Offset: ^uint64(0)}, disk.FTDir)
	self.refs = append(self.refs, subvolRef{parentTree: parent.ID, parentDir: dir, child: id, seq: seq, name: name})
	return t
}

// AddRootTreeItem adds a raw item to the root tree.
func (self *Image) AddRootTreeItem(k disk.Key, data []byte) {
	self.extra[disk.RootTreeObjectID] = append(self.extra[disk.RootTreeObjectID], itemData{k, data})
}

// AddChunkTreeItem adds a raw item to the chunk tree.
func (self *Image) AddChunkTreeItem(k disk.Key, data []byte) {
	self.extra[disk.ChunkTreeObjectID] = append(self.extra[disk.ChunkTreeObjectID], itemData{k, data})
}

func (self *Image) newFSTree(id uint64) *FSTree {
	t := &FSTree{ID: id, img: self, items: make(map[disk.Key][]byte), nextIno: disk.FirstFreeObjectID + 1, nextIndex: make(map[uint64]uint64)}
	t.putInode(disk.RootDirObjectID, disk.ModeDir|0755, 0)
	t.put(disk.Key{ObjectID: disk.RootDirObjectID, Type: disk.InodeRefKey, Offset: disk.RootDirObjectID}, inodeRef(0, ".."))
	self.fsTrees[id] = t
	self.order = append(self.order, id)
	return t
}

// Physical translates a logical address of the single chunk.
func (self *Image) Physical(logical uint64) uint64 {
	return logical - ChunkLogical + ChunkPhysical
}

// allocate reserves n bytes (rounded up to a sector) of logical space.
func (self *Image) allocate(n uint64, align uint64) uint64 {
	if align == 0 {
		align = uint64(self.SectorSize)
	}
	self.alloc = (self.alloc + align - 1) / align * align
	r := self.alloc
	self.alloc += (n + align - 1) / align * align
	if self.alloc > ChunkLogical+ChunkSize {
		panic("fstest: chunk full")
	}
	return r
}

// WriteLogical stores data at a logical address inside the chunk.
func (self *Image) WriteLogical(logical uint64, data []byte) {
	self.WritePhysical(self.Physical(logical), data)
}

// AllocateData writes data into freshly allocated logical space and
// returns its address.
func (self *Image) AllocateData(data []byte) uint64 {
	addr := self.allocate(uint64(len(data)), 0)
	self.WriteLogical(addr, data)
	return addr
}

// WritePhysical stores raw bytes on the device.
func (self *Image) WritePhysical(phys uint64, data []byte) {
	for len(data) > 0 {
		page := phys / pageSize
		ofs := phys % pageSize
		p := self.pages[page]
		if p == nil {
			p = make([]byte, pageSize)
			self.pages[page] = p
		}
		n := copy(p[ofs:], data)
		data = data[n:]
		phys += uint64(n)
	}
	if phys > self.size {
		self.size = phys
	}
}

// ReadPhysical returns a copy of n device bytes; holes read as zero.
func (self *Image) ReadPhysical(phys uint64, n int) []byte {
	b := make([]byte, n)
	for done := 0; done < n; {
		page := (phys + uint64(done)) / pageSize
		ofs := (phys + uint64(done)) % pageSize
		chunk := int(pageSize - ofs)
		if chunk > n-done {
			chunk = n - done
		}
		if p := self.pages[page]; p != nil {
			copy(b[done:done+chunk], p[ofs:])
		}
		done += chunk
	}
	return b
}

// FlipByte inverts one device byte.
func (self *Image) FlipByte(phys uint64) {
	b := self.ReadPhysical(phys, 1)
	b[0] ^= 0xff
	self.WritePhysical(phys, b)
}

// Size of the device.
func (self *Image) Size() uint64 {
	return self.size
}

// Build lays out all trees and writes the primary superblock.
func (self *Image) Build() error {
	self.Trees = make(map[uint64]TreeRoot)
	for _, id := range self.order {
		t := self.fsTrees[id]
		root, err := self.writeTree(id, t.sortedItems())
		if err != nil {
			return fmt.Errorf("fs tree %d: %w", id, err)
		}
		self.Trees[id] = root
	}
	root, err := self.writeTree(disk.RootTreeObjectID, self.rootTreeItems())
	if err != nil {
		return fmt.Errorf("root tree: %w", err)
	}
	self.RootTree = root
	root, err = self.writeTree(disk.ChunkTreeObjectID, self.chunkTreeItems())
	if err != nil {
		return fmt.Errorf("chunk tree: %w", err)
	}
	self.ChunkTree = root
	self.TotalBytes = self.size
	self.BytesUsed = self.alloc - ChunkLogical
	return self.WriteSuperblock(0, self.Generation)
}

func (self *Image) rootTreeItems() []itemData {
	items := make(map[disk.Key][]byte)
	for _, id := range self.order {
		r := self.Trees[id]
		items[disk.Key{ObjectID: id, Type: disk.RootItemKey}] = self.rootItem(r)
	}
	for _, ref := range self.refs {
		b := rootRef(ref.parentDir, ref.seq, ref.name)
		items[disk.Key{ObjectID: ref.parentTree, Type: disk.RootRefKey, Offset: ref.child}] = b
		items[disk.Key{ObjectID: ref.child, Type: disk.RootBackrefKey, Offset: ref.parentTree}] = b
	}
	rtd := disk.RootTreeDirObjectID
	items[disk.Key{ObjectID: rtd, Type: disk.InodeItemKey}] = inodeItem(disk.ModeDir|0755, 0, 1, self.Generation)
	items[disk.Key{ObjectID: rtd, Type: disk.InodeRefKey, Offset: rtd}] = inodeRef(0, "..")
	if self.DefaultSubvol != 0 {
		items[disk.Key{ObjectID: rtd, Type: disk.DirItemKey, Offset: disk.NameHash([]byte("default"))}] =
			dirEntry(disk.Key{ObjectID: self.DefaultSubvol, Type: disk.RootItemKey, Offset: ^uint64(0)}, disk.FTDir, "default", nil, self.Generation)
	}
	for _, e := range self.extra[disk.RootTreeObjectID] {
		items[e.key] = e.data
	}
	return sortItems(items)
}

func (self *Image) chunkTreeItems() []itemData {
	items := make(map[disk.Key][]byte)
	items[disk.Key{ObjectID: disk.DevItemsObjectID, Type: disk.DevItemKey, Offset: 1}] = self.devItem()
	items[disk.Key{ObjectID: disk.FirstChunkTreeObjectID, Type: disk.ChunkItemKey, Offset: ChunkLogical}] = self.chunkItem()
	for _, e := range self.extra[disk.ChunkTreeObjectID] {
		items[e.key] = e.data
	}
	return sortItems(items)
}

func sortItems(m map[disk.Key][]byte) []itemData {
	r := make([]itemData, 0, len(m))
	for k, v := range m {
		r = append(r, itemData{k, v})
	}
	sort.Slice(r, func(i, j int) bool {
		return r[i].key.Compare(r[j].key) < 0
	})
	return r
}

// writeTree packs sorted items into leaves and builds interior levels
// on top until one root remains.
func (self *Image) writeTree(owner uint64, items []itemData) (TreeRoot, error) {
	type ptr struct {
		key    disk.Key
		bytenr uint64
	}
	var level []ptr
	limit := self.MaxItemsPerNode
	space := int(self.NodeSize) - disk.HeaderSize
	i := 0
	for first := true; first || i < len(items); first = false {
		used := 0
		start := i
		for i < len(items) {
			need := disk.ItemHeaderSize + len(items[i].data)
			if need > space {
				return TreeRoot{}, fmt.Errorf("item %v too large", items[i].key)
			}
			if used+need > space || (limit > 0 && i-start >= limit) {
				break
			}
			used += need
			i++
		}
		addr := self.writeLeaf(owner, items[start:i])
		var k disk.Key
		if start < len(items) {
			k = items[start].key
		}
		level = append(level, ptr{k, addr})
	}
	depth := uint8(0)
	perNode := space / disk.KeyPtrSize
	if limit > 0 && limit < perNode {
		perNode = limit
	}
	if perNode < 2 {
		perNode = 2
	}
	for len(level) > 1 {
		depth++
		var next []ptr
		for j := 0; j < len(level); j += perNode {
			end := j + perNode
			if end > len(level) {
				end = len(level)
			}
			e := newEnc(int(self.NodeSize))
			e.seek(disk.HeaderSize)
			for _, p := range level[j:end] {
				e.key(p.key)
				e.u64(p.bytenr)
				e.u64(self.Generation)
			}
			addr := self.allocate(uint64(self.NodeSize), uint64(self.NodeSize))
			self.writeNode(e.b, addr, owner, uint32(end-j), depth)
			next = append(next, ptr{level[j].key, addr})
		}
		level = next
	}
	return TreeRoot{Bytenr: level[0].bytenr, Level: depth}, nil
}

func (self *Image) writeLeaf(owner uint64, items []itemData) uint64 {
	e := newEnc(int(self.NodeSize))
	e.seek(disk.HeaderSize)
	dataEnd := int(self.NodeSize) - disk.HeaderSize
	for _, it := range items {
		dataEnd -= len(it.data)
		e.key(it.key)
		e.u32(uint32(dataEnd))
		e.u32(uint32(len(it.data)))
		copy(e.b[disk.HeaderSize+dataEnd:], it.data)
	}
	addr := self.allocate(uint64(self.NodeSize), uint64(self.NodeSize))
	self.writeNode(e.b, addr, owner, uint32(len(items)), 0)
	return addr
}

func (self *Image) writeNode(b []byte, addr, owner uint64, nritems uint32, level uint8) {
	e := &enc{b: b}
	e.seek(disk.CsumSize)
	e.bytes(self.FSID[:])
	e.u64(addr)
	e.u64(1 | 1<<56) // WRITTEN, mixed backref revision 1
	e.bytes(self.ChunkUUID[:])
	e.u64(self.Generation)
	e.u64(owner)
	e.u32(nritems)
	e.u8(level)
	if err := disk.SetBlockChecksum(self.CsumType, b); err != nil {
		panic(err)
	}
	self.WriteLogical(addr, b)
}

// WriteSuperblock writes superblock copy i (0 = primary) with the
// given generation; the device grows to hold it.
func (self *Image) WriteSuperblock(i int, generation uint64) error {
	if i < 0 || i >= len(disk.SuperblockOffsets) {
		return fmt.Errorf("no superblock copy %d", i)
	}
	ofs := disk.SuperblockOffsets[i]
	e := newEnc(disk.SuperblockSize)
	e.seek(disk.CsumSize)
	e.bytes(self.FSID[:])
	e.u64(ofs)
	e.u64(0)
	e.bytes([]byte(disk.Magic))
	e.u64(generation)
	e.u64(self.RootTree.Bytenr)
	e.u64(self.ChunkTree.Bytenr)
	e.u64(0) // log root
	e.u64(0)
	e.u64(self.TotalBytes)
	e.u64(self.BytesUsed)
	e.u64(disk.RootTreeDirObjectID)
	e.u64(1) // num devices
	e.u32(self.SectorSize)
	e.u32(self.NodeSize)
	e.u32(self.NodeSize)
	e.u32(self.SectorSize)
	sys := self.sysChunkArray()
	e.u32(uint32(len(sys)))
	e.u64(self.Generation)
	e.u64(0)
	e.u64(0)
	e.u64(disk.IncompatMixedBackref | disk.IncompatBigMetadata | disk.IncompatExtendedIref | disk.IncompatSkinnyMetadata | disk.IncompatNoHoles)
	e.u16(self.CsumType)
	e.u8(self.RootTree.Level)
	e.u8(self.ChunkTree.Level)
	e.u8(0)
	e.bytes(self.devItem())
	label := make([]byte, 0x100)
	copy(label, self.Label)
	e.bytes(label)
	e.seek(0x32b)
	e.bytes(sys)
	if err := disk.SetBlockChecksum(self.CsumType, e.b); err != nil {
		return err
	}
	self.WritePhysical(ofs, e.b)
	return nil
}

func (self *Image) sysChunkArray() []byte {
	e := newEnc(disk.KeySize + 0x30 + 0x20)
	e.key(disk.Key{ObjectID: disk.FirstChunkTreeObjectID, Type: disk.ChunkItemKey, Offset: ChunkLogical})
	e.bytes(self.chunkItem())
	return e.b
}

func (self *Image) chunkItem() []byte {
	e := newEnc(0x30 + 0x20)
	e.u64(ChunkSize)
	e.u64(disk.ExtentTreeObjectID)
	e.u64(0x10000)
	e.u64(self.ChunkType)
	e.u32(self.SectorSize)
	e.u32(self.SectorSize)
	e.u32(self.SectorSize)
	e.u16(1)
	e.u16(0)
	e.u64(1)
	e.u64(ChunkPhysical)
	e.bytes(self.DevUUID[:])
	return e.b
}

func (self *Image) devItem() []byte {
	e := newEnc(disk.DevItemSize)
	e.u64(1)
	e.u64(self.size)
	e.u64(ChunkSize)
	e.u32(self.SectorSize)
	e.u32(self.SectorSize)
	e.u32(self.SectorSize)
	e.u64(0)
	e.u64(0)
	e.u64(0)
	e.u32(0)
	e.u8(0)
	e.u8(0)
	e.bytes(self.DevUUID[:])
	e.bytes(self.FSID[:])
	return e.b
}

func (self *Image) rootItem(r TreeRoot) []byte {
	e := newEnc(0x1b7)
	e.bytes(inodeItem(disk.ModeDir|0755, 3, 1, self.Generation))
	e.u64(self.Generation)
	e.u64(disk.RootDirObjectID)
	e.u64(r.Bytenr)
	e.u64(0)
	e.u64(uint64(self.NodeSize))
	e.u64(0)
	e.u64(0)
	e.u32(1)
	e.key(disk.Key{})
	e.u8(0)
	e.u8(r.Level)
	e.u64(self.Generation) // generation_v2
	return e.b
}

// Device returns a fresh reader over the image.
func (self *Image) Device() *Device {
	return &Device{img: self}
}

// Device is an io.ReadSeeker over the sparse image, like an *os.File
// over a real one.
type Device struct {
	img *Image
	pos int64

	// Reads counts Read calls; tests use it to see cache hits.
	Reads int
}

func (self *Device) Read(p []byte) (int, error) {
	self.Reads++
	size := int64(self.img.size)
	if self.pos >= size {
		return 0, io.EOF
	}
	n := len(p)
	if int64(n) > size-self.pos {
		n = int(size - self.pos)
	}
	copy(p, self.img.ReadPhysical(uint64(self.pos), n))
	self.pos += int64(n)
	return n, nil
}

func (self *Device) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += self.pos
	case io.SeekEnd:
		offset += int64(self.img.size)
	default:
		return 0, fmt.Errorf("fstest: bad whence %d", whence)
	}
	if offset < 0 {
		return 0, fmt.Errorf("fstest: negative position %d", offset)
	}
	self.pos = offset
	return offset, nil
}

// WriteFile writes the device to a (sparse) file at path.
func (self *Image) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for page, p := range self.pages {
		if _, err := f.WriteAt(p, int64(page*pageSize)); err != nil {
			return err
		}
	}
	return f.Truncate(int64(self.size))
}
