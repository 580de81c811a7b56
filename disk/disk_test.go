/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Fri Oct  9 11:12:50 2026 mstenber
 * Last modified: Mon Oct 12 12:40:11 2026 mstenber
 * Edit time:     38 min
 *
 */

package disk_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/fstest"
	"github.com/stvp/assert"
)

func TestNameHash(t *testing.T) {
	t.Parallel()
	assert.Equal(t, disk.NameHash([]byte("default")), uint64(2378154706))
	assert.NotEqual(t, disk.NameHash([]byte("a")), disk.NameHash([]byte("b")))
}

func TestKeyCompare(t *testing.T) {
	t.Parallel()
	a := disk.Key{ObjectID: 256, Type: disk.InodeItemKey}
	b := disk.Key{ObjectID: 256, Type: disk.DirItemKey, Offset: 1}
	c := disk.Key{ObjectID: 257}
	assert.Equal(t, a.Compare(b), -1)
	assert.Equal(t, b.Compare(a), 1)
	assert.Equal(t, b.Compare(c), -1)
	assert.Equal(t, a.Compare(a), 0)
	assert.Equal(t, b.String(), "(256 DIR_ITEM 0x1)")
	assert.Equal(t, disk.Key{ObjectID: 5, Type: disk.RootItemKey}.String(), "(FS_TREE ROOT_ITEM 0x0)")
}

func TestCursor(t *testing.T) {
	t.Parallel()
	b := []byte{1, 2, 0, 3, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0}
	c := disk.NewCursor(b)
	assert.Equal(t, c.U8(), uint8(1))
	assert.Equal(t, c.U16(), uint16(2))
	assert.Equal(t, c.U32(), uint32(3))
	assert.Equal(t, c.Remaining(), 7)
	assert.Nil(t, c.Err())
	c.U64()
	assert.True(t, errors.Is(c.Err(), disk.ErrShortBuffer))
	assert.Equal(t, c.Remaining(), 0)
	// sticky
	assert.Equal(t, c.U8(), uint8(0))
	assert.True(t, c.Err() != nil)
}

func TestChecksumTypes(t *testing.T) {
	t.Parallel()
	for _, ct := range []uint16{disk.CsumTypeCRC32C, disk.CsumTypeXXHash, disk.CsumTypeSHA256, disk.CsumTypeBlake2} {
		block := make([]byte, 4096)
		for i := range block {
			block[i] = byte(i * 7)
		}
		assert.Nil(t, disk.SetBlockChecksum(ct, block))
		assert.Nil(t, disk.VerifyBlock(ct, block))
		n, err := disk.CsumLen(ct)
		assert.Nil(t, err)
		for i := n; i < disk.CsumSize; i++ {
			assert.Equal(t, block[i], byte(0))
		}
		// Any single flipped byte after the checksum area is caught
		for pos := disk.CsumSize; pos < len(block); pos += 97 {
			block[pos] ^= 0x40
			err := disk.VerifyBlock(ct, block)
			assert.True(t, errors.Is(err, disk.ErrBadChecksum))
			block[pos] ^= 0x40
		}
		assert.Nil(t, disk.VerifyBlock(ct, block))
	}
	_, err := disk.Checksum(42, []byte{1})
	assert.True(t, errors.Is(err, disk.ErrCsumType))
	assert.Equal(t, disk.CsumTypeName(disk.CsumTypeXXHash), "xxhash64")
}

func TestCRC32CValue(t *testing.T) {
	t.Parallel()
	// Castagnoli check value
	sum, err := disk.Checksum(disk.CsumTypeCRC32C, []byte("123456789"))
	assert.Nil(t, err)
	assert.Equal(t, binary.LittleEndian.Uint32(sum), uint32(0xe3069283))
}

func TestSuperblockDecode(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	assert.Nil(t, img.Build())
	raw := img.ReadPhysical(disk.SuperblockOffsets[0], disk.SuperblockSize)
	assert.Nil(t, disk.VerifyBlock(disk.CsumTypeCRC32C, raw))
	sb, err := disk.DecodeSuperblock(raw)
	assert.Nil(t, err)
	assert.True(t, sb.CheckMagic())
	assert.Equal(t, sb.Bytenr, disk.SuperblockOffsets[0])
	assert.Equal(t, sb.Generation, img.Generation)
	assert.Equal(t, sb.Root, img.RootTree.Bytenr)
	assert.Equal(t, sb.ChunkRoot, img.ChunkTree.Bytenr)
	assert.Equal(t, sb.NodeSize, uint32(4096))
	assert.Equal(t, sb.Label, "testfs")
	assert.Equal(t, sb.FSID, img.FSID)
	assert.Equal(t, sb.DevItem.UUID, img.DevUUID)
	assert.Equal(t, sb.Serial(), uint32(0x3c6d1e5f))

	chunks, err := sb.SysChunks()
	assert.Nil(t, err)
	assert.Equal(t, len(chunks), 1)
	assert.Equal(t, chunks[0].Key.Offset, uint64(fstest.ChunkLogical))
	assert.Equal(t, chunks[0].Chunk.Size, uint64(fstest.ChunkSize))
	assert.Equal(t, chunks[0].Chunk.Stripes[0].Offset, uint64(fstest.ChunkPhysical))

	// Corrupt the magic
	raw[0x40] = 'X'
	sb, err = disk.DecodeSuperblock(raw)
	assert.Nil(t, err)
	assert.True(t, !sb.CheckMagic())

	_, err = disk.DecodeSuperblock(raw[:100])
	assert.True(t, errors.Is(err, disk.ErrShortBuffer))
}

func TestSysChunksBadSize(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	assert.Nil(t, img.Build())
	sb, err := disk.DecodeSuperblock(img.ReadPhysical(disk.SuperblockOffsets[0], disk.SuperblockSize))
	assert.Nil(t, err)
	sb.SysChunkArraySize = 0x801
	_, err = sb.SysChunks()
	assert.True(t, errors.Is(err, disk.ErrCorrupt))
	sb.SysChunkArraySize = 20
	_, err = sb.SysChunks()
	assert.True(t, errors.Is(err, disk.ErrShortBuffer))
}

func readNode(img *fstest.Image, logical uint64) []byte {
	return img.ReadPhysical(img.Physical(logical), int(img.NodeSize))
}

func TestNodeDecode(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	fs := img.FSTree(disk.FSTreeObjectID)
	dir := fs.Mkdir(disk.RootDirObjectID, "dir")
	fs.AddFile(dir, "file", []byte("hello"))
	assert.Nil(t, img.Build())

	b := readNode(img, img.Trees[disk.FSTreeObjectID].Bytenr)
	assert.Nil(t, disk.VerifyBlock(img.CsumType, b))
	n, err := disk.DecodeNode(b)
	assert.Nil(t, err)
	assert.True(t, n.IsLeaf())
	assert.Equal(t, n.Owner, disk.FSTreeObjectID)
	assert.Equal(t, n.Bytenr, img.Trees[disk.FSTreeObjectID].Bytenr)
	for i := 1; i < len(n.Items); i++ {
		assert.Equal(t, n.Items[i-1].Key.Compare(n.Items[i].Key), -1)
	}
	found := 0
	for _, it := range n.Items {
		switch it.Key.Type {
		case disk.DirItemKey:
			ents, err := disk.DecodeDirEntries(it.Data)
			assert.Nil(t, err)
			assert.Equal(t, len(ents), 1)
			assert.Equal(t, it.Key.Offset, disk.NameHash(ents[0].Name))
			found++
		case disk.ExtentDataKey:
			x, err := disk.DecodeExtentData(it.Data)
			assert.Nil(t, err)
			assert.Equal(t, x.Type, disk.FileExtentInline)
			assert.Equal(t, string(x.Inline), "hello")
			assert.Equal(t, x.Len(), uint64(5))
			found++
		case disk.InodeRefKey:
			refs, err := disk.DecodeInodeRefs(it.Data)
			assert.Nil(t, err)
			assert.Equal(t, len(refs), 1)
			found++
		}
	}
	// 2 dir items, 1 extent, 3 inode refs (root ".." included)
	assert.Equal(t, found, 6)
}

func TestNodeDecodeBounds(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	img.FSTree(disk.FSTreeObjectID).AddFile(disk.RootDirObjectID, "f", []byte("x"))
	assert.Nil(t, img.Build())
	orig := readNode(img, img.Trees[disk.FSTreeObjectID].Bytenr)

	// nritems far beyond what fits
	b := append([]byte(nil), orig...)
	binary.LittleEndian.PutUint32(b[0x60:], 100000)
	_, err := disk.DecodeNode(b)
	assert.True(t, errors.Is(err, disk.ErrCorrupt))

	// item data pointing past the block
	b = append([]byte(nil), orig...)
	binary.LittleEndian.PutUint32(b[disk.HeaderSize+disk.KeySize:], 4090)
	_, err = disk.DecodeNode(b)
	assert.True(t, errors.Is(err, disk.ErrCorrupt))

	// item data overlapping the item headers
	b = append([]byte(nil), orig...)
	binary.LittleEndian.PutUint32(b[disk.HeaderSize+disk.KeySize:], 0)
	_, err = disk.DecodeNode(b)
	assert.True(t, errors.Is(err, disk.ErrCorrupt))

	// impossible level
	b = append([]byte(nil), orig...)
	b[0x64] = disk.MaxLevel
	_, err = disk.DecodeNode(b)
	assert.True(t, errors.Is(err, disk.ErrCorrupt))

	_, err = disk.DecodeNode(orig[:50])
	assert.True(t, errors.Is(err, disk.ErrShortBuffer))
}

func TestInteriorNode(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	img.MaxItemsPerNode = 3
	fs := img.FSTree(disk.FSTreeObjectID)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		fs.AddFile(disk.RootDirObjectID, n, []byte(n))
	}
	assert.Nil(t, img.Build())
	root := img.Trees[disk.FSTreeObjectID]
	assert.True(t, root.Level > 0)
	n, err := disk.DecodeNode(readNode(img, root.Bytenr))
	assert.Nil(t, err)
	assert.True(t, !n.IsLeaf())
	assert.True(t, len(n.Ptrs) > 1)
	assert.Equal(t, n.Ptrs[0].Generation, img.Generation)
}

func TestDirEntriesCollision(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	fs := img.FSTree(disk.FSTreeObjectID)
	ino := fs.AddFile(disk.RootDirObjectID, "first", nil)
	fs.LinkCollision(disk.RootDirObjectID, disk.NameHash([]byte("first")), "second", ino)
	assert.Nil(t, img.Build())
	n, err := disk.DecodeNode(readNode(img, img.Trees[disk.FSTreeObjectID].Bytenr))
	assert.Nil(t, err)
	for _, it := range n.Items {
		if it.Key.Type != disk.DirItemKey {
			continue
		}
		ents, err := disk.DecodeDirEntries(it.Data)
		assert.Nil(t, err)
		assert.Equal(t, len(ents), 2)
		assert.Equal(t, string(ents[0].Name), "first")
		assert.Equal(t, string(ents[1].Name), "second")
		_, err = disk.DecodeDirEntries(it.Data[:len(it.Data)-1])
		assert.True(t, errors.Is(err, disk.ErrShortBuffer))
	}
}

func TestRootItem(t *testing.T) {
	t.Parallel()
	img := fstest.New()
	assert.Nil(t, img.Build())
	n, err := disk.DecodeNode(readNode(img, img.RootTree.Bytenr))
	assert.Nil(t, err)
	seen := false
	for _, it := range n.Items {
		if it.Key.ObjectID == disk.FSTreeObjectID && it.Key.Type == disk.RootItemKey {
			ri, err := disk.DecodeRootItem(it.Data)
			assert.Nil(t, err)
			assert.Equal(t, ri.Bytenr, img.Trees[disk.FSTreeObjectID].Bytenr)
			assert.Equal(t, ri.RootDirID, disk.RootDirObjectID)
			assert.True(t, ri.HasUUID)
			assert.True(t, ri.Inode.IsDir())
			seen = true

			// Short (old format) item has no uuids
			ri, err = disk.DecodeRootItem(it.Data[:disk.RootItemSize])
			assert.Nil(t, err)
			assert.True(t, !ri.HasUUID)
			_, err = disk.DecodeRootItem(it.Data[:disk.RootItemSize-1])
			assert.True(t, errors.Is(err, disk.ErrShortBuffer))
		}
	}
	assert.True(t, seen)
}

func TestExtentDataBadType(t *testing.T) {
	t.Parallel()
	b := make([]byte, 0x35)
	b[20] = 7
	_, err := disk.DecodeExtentData(b)
	assert.True(t, errors.Is(err, disk.ErrCorrupt))
	b[20] = disk.FileExtentReg
	_, err = disk.DecodeExtentData(b[:0x30])
	assert.True(t, errors.Is(err, disk.ErrShortBuffer))
}

func TestProfileName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, disk.ProfileName(disk.BlockGroupData|disk.BlockGroupMetadata|disk.BlockGroupRAID1), "data|metadata/raid1")
	assert.Equal(t, disk.ProfileName(disk.BlockGroupSystem), "system/single")
}
