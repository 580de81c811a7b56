/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct  6 10:02:31 2026 mstenber
 * Last modified: Thu Oct  8 14:20:05 2026 mstenber
 * Edit time:     44 min
 *
 */

package disk

import (
	"fmt"
	"strings"
)

// Well-known object ids. Negative ids are stored as two's complement.
const (
	RootTreeObjectID       uint64 = 1
	ExtentTreeObjectID     uint64 = 2
	ChunkTreeObjectID      uint64 = 3
	DevTreeObjectID        uint64 = 4
	FSTreeObjectID         uint64 = 5
	RootTreeDirObjectID    uint64 = 6
	CsumTreeObjectID       uint64 = 7
	QuotaTreeObjectID      uint64 = 8
	UUIDTreeObjectID       uint64 = 9
	FreeSpaceTreeObjectID  uint64 = 10
	DevStatsObjectID       uint64 = 0
	BalanceObjectID        uint64 = ^uint64(4 - 1)  // -4
	OrphanObjectID         uint64 = ^uint64(5 - 1)  // -5
	TreeLogObjectID        uint64 = ^uint64(6 - 1)  // -6
	TreeLogFixupObjectID   uint64 = ^uint64(7 - 1)  // -7
	TreeRelocObjectID      uint64 = ^uint64(8 - 1)  // -8
	DataRelocTreeObjectID  uint64 = ^uint64(9 - 1)  // -9
	ExtentCsumObjectID     uint64 = ^uint64(10 - 1) // -10
	FreeSpaceObjectID      uint64 = ^uint64(11 - 1) // -11
	FreeInoObjectID        uint64 = ^uint64(12 - 1) // -12
	FirstFreeObjectID      uint64 = 0x100
	LastFreeObjectID       uint64 = ^uint64(256 - 1) // -256
	FirstChunkTreeObjectID uint64 = 0x100
	DevItemsObjectID       uint64 = 1

	// Root directory of every filesystem tree
	RootDirObjectID = FirstFreeObjectID
)

// Item types
const (
	InodeItemKey          uint8 = 0x01
	InodeRefKey           uint8 = 0x0c
	InodeExtrefKey        uint8 = 0x0d
	XattrItemKey          uint8 = 0x18
	OrphanItemKey         uint8 = 0x30
	DirLogItemKey         uint8 = 0x3c
	DirLogIndexKey        uint8 = 0x48
	DirItemKey            uint8 = 0x54
	DirIndexKey           uint8 = 0x60
	ExtentDataKey         uint8 = 0x6c
	ExtentCsumKey         uint8 = 0x80
	RootItemKey           uint8 = 0x84
	RootBackrefKey        uint8 = 0x90
	RootRefKey            uint8 = 0x9c
	ExtentItemKey         uint8 = 0xa8
	MetadataItemKey       uint8 = 0xa9
	TreeBlockRefKey       uint8 = 0xb0
	ExtentDataRefKey      uint8 = 0xb2
	ExtentRefV0Key        uint8 = 0xb4
	SharedBlockRefKey     uint8 = 0xb6
	SharedDataRefKey      uint8 = 0xb8
	BlockGroupItemKey     uint8 = 0xc0
	FreeSpaceInfoKey      uint8 = 0xc6
	FreeSpaceExtentKey    uint8 = 0xc7
	FreeSpaceBitmapKey    uint8 = 0xc8
	DevExtentKey          uint8 = 0xcc
	DevItemKey            uint8 = 0xd8
	ChunkItemKey          uint8 = 0xe4
	QgroupStatusKey       uint8 = 0xf0
	QgroupInfoKey         uint8 = 0xf2
	QgroupLimitKey        uint8 = 0xf4
	QgroupRelationKey     uint8 = 0xf6
	TemporaryItemKey      uint8 = 0xf8
	PersistentItemKey     uint8 = 0xf9
	DevReplaceKey         uint8 = 0xfa
	UUIDKeySubvol         uint8 = 0xfb
	UUIDKeyReceivedSubvol uint8 = 0xfc
	StringItemKey         uint8 = 0xfd
)

var itemTypeNames = map[uint8]string{
	InodeItemKey:          "INODE_ITEM",
	InodeRefKey:           "INODE_REF",
	InodeExtrefKey:        "INODE_EXTREF",
	XattrItemKey:          "XATTR_ITEM",
	OrphanItemKey:         "ORPHAN_ITEM",
	DirLogItemKey:         "DIR_LOG_ITEM",
	DirLogIndexKey:        "DIR_LOG_INDEX",
	DirItemKey:            "DIR_ITEM",
	DirIndexKey:           "DIR_INDEX",
	ExtentDataKey:         "EXTENT_DATA",
	ExtentCsumKey:         "EXTENT_CSUM",
	RootItemKey:           "ROOT_ITEM",
	RootBackrefKey:        "ROOT_BACKREF",
	RootRefKey:            "ROOT_REF",
	ExtentItemKey:         "EXTENT_ITEM",
	MetadataItemKey:       "METADATA_ITEM",
	TreeBlockRefKey:       "TREE_BLOCK_REF",
	ExtentDataRefKey:      "EXTENT_DATA_REF",
	ExtentRefV0Key:        "EXTENT_REF_V0",
	SharedBlockRefKey:     "SHARED_BLOCK_REF",
	SharedDataRefKey:      "SHARED_DATA_REF",
	BlockGroupItemKey:     "BLOCK_GROUP_ITEM",
	FreeSpaceInfoKey:      "FREE_SPACE_INFO",
	FreeSpaceExtentKey:    "FREE_SPACE_EXTENT",
	FreeSpaceBitmapKey:    "FREE_SPACE_BITMAP",
	DevExtentKey:          "DEV_EXTENT",
	DevItemKey:            "DEV_ITEM",
	ChunkItemKey:          "CHUNK_ITEM",
	QgroupStatusKey:       "QGROUP_STATUS",
	QgroupInfoKey:         "QGROUP_INFO",
	QgroupLimitKey:        "QGROUP_LIMIT",
	QgroupRelationKey:     "QGROUP_RELATION",
	TemporaryItemKey:      "TEMPORARY_ITEM",
	PersistentItemKey:     "PERSISTENT_ITEM",
	DevReplaceKey:         "DEV_REPLACE",
	UUIDKeySubvol:         "UUID_KEY_SUBVOL",
	UUIDKeyReceivedSubvol: "UUID_KEY_RECEIVED_SUBVOL",
	StringItemKey:         "STRING_ITEM",
}

func ItemTypeName(t uint8) string {
	if n, ok := itemTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN.%d", t)
}

var objectIDNames = map[uint64]string{
	RootTreeObjectID:      "ROOT_TREE",
	ExtentTreeObjectID:    "EXTENT_TREE",
	ChunkTreeObjectID:     "CHUNK_TREE",
	DevTreeObjectID:       "DEV_TREE",
	FSTreeObjectID:        "FS_TREE",
	RootTreeDirObjectID:   "ROOT_TREE_DIR",
	CsumTreeObjectID:      "CSUM_TREE",
	QuotaTreeObjectID:     "QUOTA_TREE",
	UUIDTreeObjectID:      "UUID_TREE",
	FreeSpaceTreeObjectID: "FREE_SPACE_TREE",
	BalanceObjectID:       "BALANCE",
	OrphanObjectID:        "ORPHAN",
	TreeLogObjectID:       "TREE_LOG",
	TreeLogFixupObjectID:  "TREE_LOG_FIXUP",
	TreeRelocObjectID:     "TREE_RELOC",
	DataRelocTreeObjectID: "DATA_RELOC_TREE",
	ExtentCsumObjectID:    "EXTENT_CSUM",
	FreeSpaceObjectID:     "FREE_SPACE",
	FreeInoObjectID:       "FREE_INO",
}

// ObjectIDName names well-known ids; others are printed as numbers.
func ObjectIDName(id uint64) string {
	if n, ok := objectIDNames[id]; ok {
		return n
	}
	return fmt.Sprintf("%d", id)
}

// Block group (chunk) type and profile flags
const (
	BlockGroupData     uint64 = 1 << 0
	BlockGroupSystem   uint64 = 1 << 1
	BlockGroupMetadata uint64 = 1 << 2
	BlockGroupRAID0    uint64 = 1 << 3
	BlockGroupRAID1    uint64 = 1 << 4
	BlockGroupDUP      uint64 = 1 << 5
	BlockGroupRAID10   uint64 = 1 << 6
	BlockGroupRAID5    uint64 = 1 << 7
	BlockGroupRAID6    uint64 = 1 << 8
	BlockGroupRAID1C3  uint64 = 1 << 9
	BlockGroupRAID1C4  uint64 = 1 << 10

	BlockGroupTypeMask    = BlockGroupData | BlockGroupSystem | BlockGroupMetadata
	BlockGroupProfileMask = BlockGroupRAID0 | BlockGroupRAID1 | BlockGroupDUP |
		BlockGroupRAID10 | BlockGroupRAID5 | BlockGroupRAID6 |
		BlockGroupRAID1C3 | BlockGroupRAID1C4
)

var profileNames = []struct {
	flag uint64
	name string
}{
	{BlockGroupRAID0, "raid0"},
	{BlockGroupRAID1, "raid1"},
	{BlockGroupDUP, "dup"},
	{BlockGroupRAID10, "raid10"},
	{BlockGroupRAID5, "raid5"},
	{BlockGroupRAID6, "raid6"},
	{BlockGroupRAID1C3, "raid1c3"},
	{BlockGroupRAID1C4, "raid1c4"},
}

// ProfileName renders chunk type flags, e.g. "data|metadata/raid1".
func ProfileName(flags uint64) string {
	var types []string
	if flags&BlockGroupData != 0 {
		types = append(types, "data")
	}
	if flags&BlockGroupSystem != 0 {
		types = append(types, "system")
	}
	if flags&BlockGroupMetadata != 0 {
		types = append(types, "metadata")
	}
	if len(types) == 0 {
		types = append(types, "unknown")
	}
	profile := "single"
	for _, p := range profileNames {
		if flags&p.flag != 0 {
			profile = p.name
			break
		}
	}
	return strings.Join(types, "|") + "/" + profile
}

// Checksum algorithms (superblock csum_type)
const (
	CsumTypeCRC32C uint16 = 0
	CsumTypeXXHash uint16 = 1
	CsumTypeSHA256 uint16 = 2
	CsumTypeBlake2 uint16 = 3
)

// Extent data compression
const (
	CompressNone uint8 = 0
	CompressZlib uint8 = 1
	CompressLZO  uint8 = 2
	CompressZstd uint8 = 3
)

// Extent data type
const (
	FileExtentInline   uint8 = 0
	FileExtentReg      uint8 = 1
	FileExtentPrealloc uint8 = 2
)

// Directory entry file types
const (
	FTUnknown uint8 = 0
	FTRegFile uint8 = 1
	FTDir     uint8 = 2
	FTChrdev  uint8 = 3
	FTBlkdev  uint8 = 4
	FTFifo    uint8 = 5
	FTSock    uint8 = 6
	FTSymlink uint8 = 7
	FTXattr   uint8 = 8
)

// Incompat feature flags we care about when mounting
const (
	IncompatMixedBackref   uint64 = 1 << 0
	IncompatDefaultSubvol  uint64 = 1 << 1
	IncompatMixedGroups    uint64 = 1 << 2
	IncompatCompressLZO    uint64 = 1 << 3
	IncompatCompressZstd   uint64 = 1 << 4
	IncompatBigMetadata    uint64 = 1 << 5
	IncompatExtendedIref   uint64 = 1 << 6
	IncompatRAID56         uint64 = 1 << 7
	IncompatSkinnyMetadata uint64 = 1 << 8
	IncompatNoHoles        uint64 = 1 << 9
	IncompatMetadataUUID   uint64 = 1 << 10
	IncompatRAID1C34       uint64 = 1 << 11
)

// Inode mode bits (st_mode)
const (
	ModeTypeMask uint32 = 0170000
	ModeSocket   uint32 = 0140000
	ModeSymlink  uint32 = 0120000
	ModeRegular  uint32 = 0100000
	ModeBlock    uint32 = 0060000
	ModeDir      uint32 = 0040000
	ModeChar     uint32 = 0020000
	ModeFifo     uint32 = 0010000
)

// MaxLevel is the deepest tree btrfs will ever build (levels 0..7).
const MaxLevel = 8

// MaxNameLen is the longest directory entry name.
const MaxNameLen = 255
