/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Fri Oct 16 12:40:02 2026 mstenber
 * Last modified: Fri Oct 16 14:18:55 2026 mstenber
 * Edit time:     71 min
 *
 */

package btrfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/fstest"
	"github.com/stvp/assert"
)

func mount(t *testing.T, img *fstest.Image, opts Options) *Volume {
	err := img.Build()
	assert.Nil(t, err)
	v, err := Mount(img.Device(), opts)
	assert.Nil(t, err)
	return v
}

// sample has a directory, a file in it, and a subvolume "snap1"
// (id 257) with one file.
func sample() *fstest.Image {
	img := fstest.New()
	fs := img.FSTree(disk.FSTreeObjectID)
	a := fs.Mkdir(disk.RootDirObjectID, "a")
	fs.AddFile(a, "b", []byte("bee"))
	fs.AddFile(disk.RootDirObjectID, "top", []byte("top level"))
	sub := img.AddSubvolume(fs, disk.RootDirObjectID, "snap1", 257)
	sub.AddFile(disk.RootDirObjectID, "inner", []byte("hello"))
	return img
}

func TestChunkMap(t *testing.T) {
	t.Parallel()
	m := NewChunkMap([]disk.ChunkEntry{{
		Key:   disk.Key{ObjectID: disk.FirstChunkTreeObjectID, Type: disk.ChunkItemKey, Offset: 0},
		Chunk: disk.Chunk{Size: 0x400000, Stripes: []disk.Stripe{{DevID: 1, Offset: 0x100000}}},
	}})
	phys, err := m.LogicalToPhysical(0x1000, 0x1000)
	assert.Nil(t, err)
	assert.Equal(t, phys, uint64(0x101000))

	_, err = m.LogicalToPhysical(0x400000, 1)
	assert.True(t, errors.Is(err, ErrUnmapped))
	_, err = m.LogicalToPhysical(0x3ff000, 0x2000)
	assert.True(t, errors.Is(err, ErrUnmapped))

	m.add(disk.ChunkEntry{Key: disk.Key{Offset: 0x1000000}, Chunk: disk.Chunk{Size: 0x100000, Stripes: []disk.Stripe{{Offset: 0x800000}}}})
	m.add(disk.ChunkEntry{Key: disk.Key{Offset: 0x500000}, Chunk: disk.Chunk{Size: 0x100000, Stripes: []disk.Stripe{{Offset: 0x600000}}}})
	assert.Nil(t, m.sort())
	phys, err = m.LogicalToPhysical(0x1000010, 0x10)
	assert.Nil(t, err)
	assert.Equal(t, phys, uint64(0x800010))
	phys, err = m.LogicalToPhysical(0x500000, 0x100000)
	assert.Nil(t, err)
	assert.Equal(t, phys, uint64(0x600000))
	_, err = m.LogicalToPhysical(0x700000, 1)
	assert.True(t, errors.Is(err, ErrUnmapped))
	assert.Equal(t, len(m.Chunks()), 2)

	m.add(disk.ChunkEntry{Key: disk.Key{Offset: 0x580000}, Chunk: disk.Chunk{Size: 0x1000, Stripes: []disk.Stripe{{}}}})
	err = m.sort()
	assert.True(t, errors.Is(err, ErrCorruptMetadata))
}

func TestMountDefaults(t *testing.T) {
	t.Parallel()
	img := sample()
	v := mount(t, img, Options{})
	defer v.Close()
	assert.Equal(t, v.Subvolume(), disk.FSTreeObjectID)
	assert.Equal(t, v.Root(), FileID{Tree: 5, Object: 256})
	assert.Equal(t, v.Superblock().Label, "testfs")
	assert.Equal(t, len(v.ChunkMap().Chunks()), 1)

	info := v.Info()
	assert.Equal(t, info.Label, "testfs")
	assert.Equal(t, info.FSName, "Btrfs")
	assert.Equal(t, info.MaxComponentLength, 255)
	assert.Equal(t, info.UUID, img.FSID)
	assert.Equal(t, info.SuperblockCopy, 1)
	assert.Equal(t, info.CsumType, "crc32c")
	assert.True(t, info.ReadOnly)

	total, free := v.FreeSpace()
	assert.Equal(t, total, img.TotalBytes)
	assert.Equal(t, free, img.TotalBytes-img.BytesUsed)

	subs := v.Subvolumes()
	assert.Equal(t, len(subs), 1)
	assert.Equal(t, subs[0].ID, uint64(257))
	assert.Equal(t, subs[0].Parent, uint64(5))
	assert.Equal(t, subs[0].DirID, uint64(256))
	assert.Equal(t, subs[0].Name, "snap1")
}

func TestSubvolumeSelection(t *testing.T) {
	t.Parallel()
	img := sample()
	v := mount(t, img, Options{Subvolume: "snap1"})
	assert.Equal(t, v.Subvolume(), uint64(257))

	id, err := v.SubvolumeID("snap1")
	assert.Nil(t, err)
	assert.Equal(t, id, uint64(257))
	_, err = v.SubvolumeID("nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	ok, err := v.SubvolumeExists(257)
	assert.Nil(t, err)
	assert.True(t, ok)
	ok, err = v.SubvolumeExists(5)
	assert.Nil(t, err)
	assert.True(t, ok)
	ok, err = v.SubvolumeExists(300)
	assert.Nil(t, err)
	assert.True(t, !ok)

	assert.Nil(t, v.SelectSubvolume("default", 0))
	assert.Equal(t, v.Subvolume(), uint64(5))
	assert.Nil(t, v.SelectSubvolume("", 257))
	assert.Equal(t, v.Subvolume(), uint64(257))

	err = v.SelectSubvolume("", 300)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, v.Subvolume(), uint64(257))
	err = v.SelectSubvolume("nope", 0)
	assert.True(t, errors.Is(err, ErrNotFound))
	err = v.SelectSubvolume("snap1", 257)
	assert.True(t, errors.Is(err, ErrBadSubvol))

	_, err = Mount(img.Device(), Options{SubvolumeID: 300})
	assert.True(t, errors.Is(err, ErrNotFound))

	addr, level, err := v.TreeRoot(257)
	assert.Nil(t, err)
	assert.Equal(t, addr, img.Trees[257].Bytenr)
	assert.Equal(t, level, img.Trees[257].Level)
	_, _, err = v.TreeRoot(300)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDefaultSubvolume(t *testing.T) {
	t.Parallel()
	img := sample()
	img.DefaultSubvol = 257
	v := mount(t, img, Options{})
	assert.Equal(t, v.Subvolume(), uint64(257))
	id, err := v.DefaultSubvolume()
	assert.Nil(t, err)
	assert.Equal(t, id, uint64(257))

	img = sample()
	img.DefaultSubvol = 0
	v = mount(t, img, Options{})
	assert.Equal(t, v.Subvolume(), uint64(5))
	_, err = v.DefaultSubvolume()
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBackupSuperblock(t *testing.T) {
	t.Parallel()
	img := sample()
	assert.Nil(t, img.Build())
	assert.Nil(t, img.WriteSuperblock(1, img.Generation+1))
	v, err := Mount(img.Device(), Options{})
	assert.Nil(t, err)
	assert.Equal(t, v.Info().SuperblockCopy, 2)
	assert.Equal(t, v.Superblock().Generation, img.Generation+1)

	// A damaged backup is ignored
	img.FlipByte(disk.SuperblockOffsets[1] + 0x100)
	v, err = Mount(img.Device(), Options{})
	assert.Nil(t, err)
	assert.Equal(t, v.Info().SuperblockCopy, 1)
}

func TestBadPrimarySuperblock(t *testing.T) {
	t.Parallel()
	img := sample()
	assert.Nil(t, img.Build())
	img.FlipByte(disk.SuperblockOffsets[0] + 0x100)
	_, err := Mount(img.Device(), Options{})
	assert.True(t, errors.Is(err, disk.ErrBadChecksum))

	img = sample()
	assert.Nil(t, img.Build())
	img.FlipByte(disk.SuperblockOffsets[0] + 0x40)
	_, err = Mount(img.Device(), Options{})
	assert.True(t, errors.Is(err, disk.ErrBadMagic))
}

func TestValidity(t *testing.T) {
	t.Parallel()
	assert.Equal(t, OK.String(), "ok")
	assert.Equal(t, BadMagic.String(), "bad magic")
	assert.Equal(t, BadChecksum.String(), "bad checksum")
	assert.Nil(t, OK.Err())
	assert.True(t, errors.Is(BadMagic.Err(), disk.ErrBadMagic))
	assert.True(t, errors.Is(BadChecksum.Err(), disk.ErrBadChecksum))
}

type nodeCounter struct {
	nodes map[uint64]int
	keys  []disk.Key
}

func (self *nodeCounter) Node(addr uint64, n *disk.Node) error {
	self.nodes[addr]++
	return nil
}

func (self *nodeCounter) Item(it *disk.Item) (Result, error) {
	self.keys = append(self.keys, it.Key)
	return Continue, nil
}

func TestWalkDeepTree(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	img.MaxItemsPerNode = 3
	fs := img.FSTree(disk.FSTreeObjectID)
	for i := 0; i < 30; i++ {
		fs.AddFile(disk.RootDirObjectID, fmt.Sprintf("f%02d", i), []byte("x"))
	}
	v := mount(t, img, Options{})
	assert.True(t, img.Trees[5].Level >= 2)

	nc := &nodeCounter{nodes: make(map[uint64]int)}
	r, err := v.walkTree(disk.FSTreeObjectID, minKey, maxKey, nc)
	assert.Nil(t, err)
	assert.Equal(t, r, Continue)
	for _, c := range nc.nodes {
		assert.Equal(t, c, 1)
	}
	// root inode + ref, then 30 * (dir item, dir index, inode, ref, extent)
	assert.Equal(t, len(nc.keys), 2+30*5)
	for i := 1; i < len(nc.keys); i++ {
		assert.True(t, nc.keys[i-1].Compare(nc.keys[i]) < 0)
	}

	// A range walk sees only the requested object
	ents, err := v.ListDir(v.Root())
	assert.Nil(t, err)
	assert.Equal(t, len(ents), 30)
	ino := ents[17].ID.Object
	lo, hi := objectKeys(ino, 0)
	nc = &nodeCounter{nodes: make(map[uint64]int)}
	_, err = v.walkTree(disk.FSTreeObjectID, lo, hi, nc)
	assert.Nil(t, err)
	assert.Equal(t, len(nc.keys), 3)
	for _, k := range nc.keys {
		assert.Equal(t, k.ObjectID, ino)
	}
	assert.True(t, len(nc.nodes) < img.MaxItemsPerNode*int(img.Trees[5].Level)+2)

	// Stop ends the walk at once
	count := 0
	r, err = v.walkTree(disk.FSTreeObjectID, minKey, maxKey, VisitorFunc(func(it *disk.Item) (Result, error) {
		count++
		if count == 7 {
			return Stop, nil
		}
		return Continue, nil
	}))
	assert.Nil(t, err)
	assert.Equal(t, r, Stop)
	assert.Equal(t, count, 7)
}

func TestEmptyLeaf(t *testing.T) {
	t.Parallel()
	img := sample()
	assert.Nil(t, img.Build())
	root := img.Trees[257]
	assert.Equal(t, root.Level, uint8(0))

	// zero nritems of the subvolume's only leaf and re-checksum it
	phys := img.Physical(root.Bytenr)
	leaf := img.ReadPhysical(phys, int(img.NodeSize))
	binary.LittleEndian.PutUint32(leaf[0x60:], 0)
	assert.Nil(t, disk.SetBlockChecksum(img.CsumType, leaf))
	img.WritePhysical(phys, leaf)

	v, err := Mount(img.Device(), Options{})
	assert.Nil(t, err)
	nc := &nodeCounter{nodes: make(map[uint64]int)}
	r, err := v.walkTree(257, minKey, maxKey, nc)
	assert.Nil(t, err)
	assert.Equal(t, r, Continue)
	assert.Equal(t, len(nc.keys), 0)
	assert.Equal(t, nc.nodes[root.Bytenr], 1)

	_, err = v.ListDir(FileID{Tree: 257, Object: disk.RootDirObjectID})
	assert.True(t, errors.Is(err, ErrNotFound))

	// FS_TREE still lists
	ents, err := v.ListDir(v.Root())
	assert.Nil(t, err)
	assert.Equal(t, len(ents), 3)
}

func TestCorruptNode(t *testing.T) {
	t.Parallel()
	img := sample()
	assert.Nil(t, img.Build())
	img.FlipByte(img.Physical(img.Trees[5].Bytenr) + 0x200)
	v, err := Mount(img.Device(), Options{})
	assert.Nil(t, err)
	_, err = v.ListDir(v.Root())
	assert.True(t, errors.Is(err, ErrCorruptMetadata))

	// The other subvolume is unaffected
	pkg, err := v.FilePackage(FileID{Tree: 257, Object: 257})
	assert.Nil(t, err)
	assert.Equal(t, pkg.Name, "inner")
}

func TestWrongOwner(t *testing.T) {
	t.Parallel()
	img := sample()
	v := mount(t, img, Options{})
	_, err := v.walk(img.Trees[5].Bytenr, disk.RootTreeObjectID, VisitorFunc(func(it *disk.Item) (Result, error) {
		return Continue, nil
	}))
	assert.True(t, errors.Is(err, ErrCorruptMetadata))
	assert.True(t, errors.Is(err, ErrWrongOwner))

	// Filesystem trees accept each other's nodes (snapshots)
	_, err = v.walk(img.Trees[5].Bytenr, 257, VisitorFunc(func(it *disk.Item) (Result, error) {
		return Continue, nil
	}))
	assert.Nil(t, err)
}

func TestUnmappedNode(t *testing.T) {
	t.Parallel()
	img := sample()
	v := mount(t, img, Options{})
	_, err := v.readNode(0x40000000, disk.FSTreeObjectID)
	assert.True(t, errors.Is(err, ErrUnmapped))
}

func names(ents []DirEntry) []string {
	var r []string
	for _, e := range ents {
		r = append(r, e.Name)
	}
	return r
}

func TestListDir(t *testing.T) {
	t.Parallel()
	img := sample()
	v := mount(t, img, Options{})

	ents, err := v.ListDir(v.Root())
	assert.Nil(t, err)
	assert.Equal(t, names(ents), []string{"a", "top", "snap1"})
	assert.Equal(t, ents[2].ID, FileID{Tree: 257, Object: 256})
	assert.Equal(t, ents[2].Type, disk.FTDir)
	assert.True(t, ents[2].Inode.IsDir())
	assert.Equal(t, ents[1].Inode.Size, uint64(9))

	a := ents[0].ID
	ents, err = v.ListDir(a)
	assert.Nil(t, err)
	assert.Equal(t, names(ents), []string{".", "..", "b"})
	assert.Equal(t, ents[0].ID, a)
	assert.Equal(t, ents[1].ID, v.Root())
	assert.Equal(t, ents[2].Inode.Size, uint64(3))
	for _, e := range ents {
		assert.True(t, !e.Hidden)
	}

	// Root of another subvolume is an ordinary directory here
	ents, err = v.ListDir(FileID{Tree: 257, Object: 256})
	assert.Nil(t, err)
	assert.Equal(t, names(ents), []string{".", "..", "inner"})
	assert.Equal(t, ents[1].ID, v.Root())

	_, err = v.ListDir(FileID{Tree: 5, Object: 999})
	assert.True(t, errors.Is(err, ErrNotFound))
	top, err := v.NameToID(v.Root(), "top")
	assert.Nil(t, err)
	_, err = v.ListDir(top)
	assert.True(t, errors.Is(err, ErrNotDir))
}

func TestFilePackage(t *testing.T) {
	t.Parallel()
	img := sample()
	v := mount(t, img, Options{})

	pkg, err := v.FilePackage(v.Root())
	assert.Nil(t, err)
	assert.Equal(t, pkg.Name, RootDirName)
	assert.Equal(t, pkg.Parent, FileID{})
	assert.True(t, pkg.IsDir())

	pkg, err = v.FilePackage(FileID{Tree: 257, Object: 256})
	assert.Nil(t, err)
	assert.Equal(t, pkg.Name, RootDirName)
	assert.Equal(t, pkg.Parent, FileID{Tree: 5, Object: 256})

	r, err := v.Resolve("a/b")
	assert.Nil(t, err)
	pkg, err = v.FilePackage(r.ID)
	assert.Nil(t, err)
	assert.Equal(t, pkg.Name, "b")
	assert.Equal(t, pkg.Parent, r.Parent)
	assert.Equal(t, len(pkg.Extents), 1)
	assert.True(t, !pkg.IsDir())
	assert.True(t, !pkg.Hidden)

	ino, err := v.Inode(r.ID)
	assert.Nil(t, err)
	assert.Equal(t, ino.Size, uint64(3))
	assert.Equal(t, ino.UID, uint32(1000))
	_, err = v.Inode(FileID{Tree: 5, Object: 999})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResolve(t *testing.T) {
	t.Parallel()
	img := sample()
	v := mount(t, img, Options{})
	root := v.Root()

	for _, p := range []string{"", "/", "\\", "//", ".", "a/..", "../..", "a/../../"} {
		r, err := v.Resolve(p)
		assert.Nil(t, err)
		assert.Equal(t, r.ID, root)
	}

	a, err := v.NameToID(root, "a")
	assert.Nil(t, err)
	r, err := v.Resolve("/a/b")
	assert.Nil(t, err)
	assert.Equal(t, r.Parent, a)
	r2, err := v.Resolve("a\\.\\b")
	assert.Nil(t, err)
	assert.Equal(t, r2, r)

	r, err = v.Resolve("a/..")
	assert.Nil(t, err)
	assert.Equal(t, r.ID, root)
	r, err = v.Resolve("a/b/..")
	assert.Nil(t, err)
	assert.Equal(t, r, Resolved{ID: a, Parent: root})

	// Crossing into a subvolume changes tree
	r, err = v.Resolve("snap1/inner")
	assert.Nil(t, err)
	assert.Equal(t, r.ID.Tree, uint64(257))
	assert.Equal(t, r.Parent, FileID{Tree: 257, Object: 256})
	pkg, err := v.ResolvePackage("/snap1/inner")
	assert.Nil(t, err)
	assert.Equal(t, pkg.Name, "inner")
	assert.Equal(t, pkg.Inode.Size, uint64(5))

	_, err = v.Resolve("a/nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = v.Resolve("top/x")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Equal(t, SplitPath("/x//y\\z/"), []string{"x", "y", "z"})
	assert.Equal(t, len(SplitPath("///")), 0)
}

func TestNameCollision(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	fs := img.FSTree(disk.FSTreeObjectID)
	decoy := fs.AddFile(disk.RootDirObjectID, "decoy", []byte("d"))
	fs.LinkCollision(disk.RootDirObjectID, disk.NameHash([]byte("ghost")), "notghost", decoy)
	v := mount(t, img, Options{})

	_, err := v.NameToID(v.Root(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))

	img = fstest.New()
	fs = img.FSTree(disk.FSTreeObjectID)
	decoy = fs.AddFile(disk.RootDirObjectID, "decoy", []byte("d"))
	fs.LinkCollision(disk.RootDirObjectID, disk.NameHash([]byte("ghost")), "notghost", decoy)
	ghost := fs.AddFile(disk.RootDirObjectID, "ghost", []byte("g"))
	v = mount(t, img, Options{})
	id, err := v.NameToID(v.Root(), "ghost")
	assert.Nil(t, err)
	assert.Equal(t, id, FileID{Tree: 5, Object: ghost})

	_, err = v.NameToID(v.Root(), "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHiddenSymlinkXattr(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	fs := img.FSTree(disk.FSTreeObjectID)
	hidden := fs.AddFile(disk.RootDirObjectID, ".hidden", []byte("h"))
	fs.SetXattr(hidden, "user.foo", []byte("bar"))
	fs.SetXattr(hidden, "user.empty", nil)
	link := fs.AddSymlink(disk.RootDirObjectID, "link", "a/target")
	v := mount(t, img, Options{})

	pkg, err := v.FilePackage(FileID{Tree: 5, Object: hidden})
	assert.Nil(t, err)
	assert.True(t, pkg.Hidden)
	ents, err := v.ListDir(v.Root())
	assert.Nil(t, err)
	assert.Equal(t, names(ents), []string{".hidden", "link"})
	assert.True(t, ents[0].Hidden)
	assert.True(t, !ents[1].Hidden)
	assert.Equal(t, ents[1].Type, disk.FTSymlink)
	assert.True(t, hiddenName("..."))
	assert.True(t, !hiddenName("."))
	assert.True(t, !hiddenName(".."))
	assert.True(t, !hiddenName(""))

	xa, err := v.XAttrs(FileID{Tree: 5, Object: hidden})
	assert.Nil(t, err)
	assert.Equal(t, len(xa), 2)
	values := map[string]string{}
	for _, x := range xa {
		values[x.Name] = string(x.Value)
	}
	assert.Equal(t, values, map[string]string{"user.foo": "bar", "user.empty": ""})
	xa, err = v.XAttrs(FileID{Tree: 5, Object: link})
	assert.Nil(t, err)
	assert.Equal(t, len(xa), 0)

	target, err := v.Readlink(FileID{Tree: 5, Object: link})
	assert.Nil(t, err)
	assert.Equal(t, target, "a/target")
	_, err = v.Readlink(FileID{Tree: 5, Object: hidden})
	assert.True(t, errors.Is(err, ErrNotSymlink))
}

func TestNodeCache(t *testing.T) {
	t.Parallel()
	img := sample()
	assert.Nil(t, img.Build())
	dev := img.Device()
	v, err := Mount(dev, Options{})
	assert.Nil(t, err)
	_, err = v.ListDir(v.Root())
	assert.Nil(t, err)
	reads := dev.Reads
	_, err = v.ListDir(v.Root())
	assert.Nil(t, err)
	assert.Equal(t, dev.Reads, reads)
	assert.True(t, v.CacheStats().Hits > 0)
	assert.Nil(t, v.Close())
}

func TestSubvolumeLinked(t *testing.T) {
	t.Parallel()
	v := mount(t, sample(), Options{})
	subs := v.Subvolumes()
	assert.Equal(t, len(subs), 1)
	assert.True(t, subs[0].Linked)

	// a backref whose parent has no ROOT_REF
	img := sample()
	img.AddRootTreeItem(disk.Key{ObjectID: 300, Type: disk.RootBackrefKey, Offset: disk.FSTreeObjectID},
		fstest.RootRef(disk.RootDirObjectID, 9, "stray"))
	v = mount(t, img, Options{})
	subs = v.Subvolumes()
	assert.Equal(t, len(subs), 2)
	assert.True(t, subs[0].Linked)
	assert.Equal(t, subs[1].ID, uint64(300))
	assert.True(t, !subs[1].Linked)
}

func TestNotice(t *testing.T) {
	t.Parallel()
	img := sample()
	v := mount(t, img, Options{})
	v.notice("x", "y")
	v.notice("x", "y")
	v.notice("x", "z")
	assert.Equal(t, len(v.notices), 2)
}
