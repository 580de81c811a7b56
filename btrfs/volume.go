/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Wed Oct 14 15:12:06 2026 mstenber
 * Last modified: Fri Oct 16 10:14:45 2026 mstenber
 * Edit time:     97 min
 *
 */

// btrfs is a read-only btrfs reader: superblock bootstrap, chunk
// mapping, tree walking, subvolumes, path resolution and file data.
//
// A Volume holds all per-mount state. Tree lookups are serialized by
// one lock; reading file data from an already resolved FilePkg does
// not take it.
package btrfs

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fingon/go-btrfsro/device"
	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/logger"
	"github.com/fingon/go-btrfsro/mlog"
	"github.com/fingon/go-btrfsro/util"
	"github.com/google/uuid"
)

type Options struct {
	// Device reader; zero values mean device defaults
	CacheSize   uint64
	LockTimeout time.Duration

	// Subvolume selects by name ("default" = FS_TREE); SubvolumeID
	// by id. Neither set means the default subvolume.
	Subvolume   string
	SubvolumeID uint64
}

// FileID names a file: the filesystem tree it lives in and its object
// id within that tree.
type FileID struct {
	Tree   uint64
	Object uint64
}

func (self FileID) String() string {
	return fmt.Sprintf("%d:%d", self.Tree, self.Object)
}

type Volume struct {
	reader *device.Reader
	sb     *disk.Superblock
	sbCopy int
	chunks *ChunkMap

	// Root tree contents, loaded at mount
	roots   map[uint64]rootEntry
	subvols []Subvolume

	subvol uint64

	lock util.MutexLocked

	noticeLock util.MutexLocked
	notices    map[string]bool
}

// Open reads the superblock, the chunk tree and the root tree. No
// subvolume is selected yet; see SelectSubvolume.
func Open(dev io.ReadSeeker, opts Options) (*Volume, error) {
	r := device.NewReader(dev, device.ReaderOptions{CacheSize: opts.CacheSize, LockTimeout: opts.LockTimeout})
	self := &Volume{reader: r, notices: make(map[string]bool)}
	if err := self.open(); err != nil {
		r.Close()
		return nil, err
	}
	return self, nil
}

func (self *Volume) open() error {
	sb, index, err := LoadSuperblock(self.reader)
	if err != nil {
		return err
	}
	self.sb = sb
	self.sbCopy = index
	logger.Debugw("superblock", "copy", index, "generation", sb.Generation,
		"label", sb.Label, "fsid", sb.FSID.String())
	if _, err := disk.CsumLen(sb.CsumType); err != nil {
		return err
	}
	if sb.NodeSize < disk.HeaderSize || sb.NodeSize > 65536 {
		return fmt.Errorf("%w: node size %d", disk.ErrCorrupt, sb.NodeSize)
	}
	if sb.NumDevices > 1 {
		self.notice("multiple devices", fmt.Sprintf("%d devices, reading stripe 0 of the first only", sb.NumDevices))
	}
	boot, err := sb.SysChunks()
	if err != nil {
		return err
	}
	self.chunks = NewChunkMap(boot)
	if err := self.loadChunkTree(); err != nil {
		return fmt.Errorf("chunk tree: %w", err)
	}
	if err := self.loadRootTree(); err != nil {
		return fmt.Errorf("root tree: %w", err)
	}
	return nil
}

// Mount opens the volume and selects the subvolume given in opts.
func Mount(dev io.ReadSeeker, opts Options) (*Volume, error) {
	self, err := Open(dev, opts)
	if err != nil {
		return nil, err
	}
	if err := self.SelectSubvolume(opts.Subvolume, opts.SubvolumeID); err != nil {
		self.Close()
		return nil, err
	}
	return self, nil
}

func (self *Volume) loadChunkTree() error {
	_, err := self.walk(self.sb.ChunkRoot, disk.ChunkTreeObjectID, VisitorFunc(func(it *disk.Item) (Result, error) {
		if it.Key.Type != disk.ChunkItemKey {
			return Continue, nil
		}
		ch, err := disk.DecodeChunk(it.Data)
		if err != nil {
			return Stop, fmt.Errorf("%w: %v: %w", ErrCorruptMetadata, it.Key, err)
		}
		if len(ch.Stripes) > 1 || ch.Type&disk.BlockGroupProfileMask != 0 {
			self.notice("chunk profile", disk.ProfileName(ch.Type))
		}
		mlog.Printf2("btrfs/volume", "chunk @%#x+%#x -> %#x", it.Key.Offset, ch.Size, ch.Stripes[0].Offset)
		self.chunks.add(disk.ChunkEntry{Key: it.Key, Chunk: ch})
		return Continue, nil
	}))
	if err != nil {
		return err
	}
	return self.chunks.sort()
}

// SelectSubvolume chooses the filesystem tree paths are resolved in:
// name "default" is FS_TREE, another name is looked up among the
// subvolumes, id is used as is, and neither means the default
// subvolume of the volume (FS_TREE if none is set).
func (self *Volume) SelectSubvolume(name string, id uint64) error {
	defer self.lock.Locked()()
	switch {
	case name != "" && id != 0:
		return fmt.Errorf("%w: both name %q and id %d", ErrBadSubvol, name, id)
	case name == "default":
		id = disk.FSTreeObjectID
	case name != "":
		var err error
		id, err = self.subvolumeID(name)
		if err != nil {
			return fmt.Errorf("subvolume %q: %w", name, err)
		}
	case id == 0:
		var err error
		id, err = self.defaultSubvolume()
		if errors.Is(err, ErrNotFound) {
			id, err = disk.FSTreeObjectID, nil
		}
		if err != nil {
			return err
		}
	}
	ok, err := self.subvolumeExists(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("subvolume %d: %w", id, ErrNotFound)
	}
	if _, ok := self.roots[id]; !ok {
		return fmt.Errorf("subvolume %d root item: %w", id, ErrNotFound)
	}
	self.subvol = id
	logger.Infow("subvolume selected", "id", id)
	return nil
}

// Subvolume returns the selected subvolume id (0 if none yet).
func (self *Volume) Subvolume() uint64 {
	return self.subvol
}

// Root is the root directory of the selected subvolume.
func (self *Volume) Root() FileID {
	return FileID{Tree: self.subvol, Object: disk.RootDirObjectID}
}

func (self *Volume) Superblock() *disk.Superblock {
	return self.sb
}

func (self *Volume) ChunkMap() *ChunkMap {
	return self.chunks
}

func (self *Volume) CacheStats() device.CacheStats {
	return self.reader.CacheStats()
}

func (self *Volume) Close() error {
	return self.reader.Close()
}

// notice logs an unsupported feature once per volume.
func (self *Volume) notice(feature, detail string) {
	defer self.noticeLock.Locked()()
	k := feature + "\x00" + detail
	if self.notices[k] {
		return
	}
	self.notices[k] = true
	logger.Warnw("unsupported feature", "feature", feature, "detail", detail)
}

// FreeSpace reports total and free bytes from the superblock.
func (self *Volume) FreeSpace() (total, free uint64) {
	total = self.sb.TotalBytes
	if self.sb.BytesUsed < total {
		free = total - self.sb.BytesUsed
	}
	return
}

type VolumeInfo struct {
	Label              string
	Serial             uint32
	MaxComponentLength int
	FSName             string
	ReadOnly           bool
	UUID               uuid.UUID
	Generation         uint64
	NodeSize           uint32
	SectorSize         uint32
	CsumType           string
	SuperblockCopy     int
	Subvolume          uint64
}

func (self *Volume) Info() VolumeInfo {
	return VolumeInfo{
		Label:              self.sb.Label,
		Serial:             self.sb.Serial(),
		MaxComponentLength: disk.MaxNameLen,
		FSName:             "Btrfs",
		ReadOnly:           true,
		UUID:               self.sb.FSID,
		Generation:         self.sb.Generation,
		NodeSize:           self.sb.NodeSize,
		SectorSize:         self.sb.SectorSize,
		CsumType:           disk.CsumTypeName(self.sb.CsumType),
		SuperblockCopy:     self.sbCopy,
		Subvolume:          self.subvol,
	}
}
