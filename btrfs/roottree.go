/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Thu Oct 15 09:40:55 2026 mstenber
 * Last modified: Fri Oct 16 09:21:30 2026 mstenber
 * Edit time:     52 min
 *
 */

package btrfs

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/logger"
	"github.com/fingon/go-btrfsro/mlog"
	"github.com/google/uuid"
)

type rootEntry struct {
	Key  disk.Key
	Item disk.RootItem
}

// Subvolume is one ROOT_BACKREF: tree ID is linked as Name in
// directory DirID of tree Parent.
type Subvolume struct {
	ID         uint64
	Parent     uint64
	DirID      uint64
	Sequence   uint64
	Name       string
	Generation uint64
	UUID       uuid.UUID
	ParentUUID uuid.UUID

	// Linked is set when the parent's ROOT_REF agrees with the backref
	Linked bool
}

// loadRootTree copies the ROOT_ITEM and ROOT_BACKREF items into
// memory. ROOT_REF items mirror the backrefs; a subvolume is Linked
// when its parent carries the matching ROOT_REF.
func (self *Volume) loadRootTree() error {
	self.roots = make(map[uint64]rootEntry)
	self.subvols = nil
	refs := make(map[[2]uint64]disk.RootRef)
	_, err := self.walk(self.sb.Root, disk.RootTreeObjectID, VisitorFunc(func(it *disk.Item) (Result, error) {
		switch it.Key.Type {
		case disk.RootItemKey:
			ri, err := disk.DecodeRootItem(it.Data)
			if err != nil {
				return Stop, fmt.Errorf("%w: %v: %w", ErrCorruptMetadata, it.Key, err)
			}
			self.roots[it.Key.ObjectID] = rootEntry{Key: it.Key, Item: ri}
		case disk.RootBackrefKey, disk.RootRefKey:
			ref, err := disk.DecodeRootRef(it.Data)
			if err != nil {
				return Stop, fmt.Errorf("%w: %v: %w", ErrCorruptMetadata, it.Key, err)
			}
			if it.Key.Type == disk.RootRefKey {
				refs[[2]uint64{it.Key.ObjectID, it.Key.Offset}] = ref
			} else {
				self.subvols = append(self.subvols, Subvolume{
					ID:       it.Key.ObjectID,
					Parent:   it.Key.Offset,
					DirID:    ref.DirID,
					Sequence: ref.Sequence,
					Name:     string(ref.Name),
				})
			}
		}
		return Continue, nil
	}))
	if err != nil {
		return err
	}
	for i := range self.subvols {
		s := &self.subvols[i]
		if ref, ok := refs[[2]uint64{s.Parent, s.ID}]; ok {
			s.Linked = ref.DirID == s.DirID && string(ref.Name) == s.Name
		}
		if !s.Linked {
			logger.Warnw("subvolume backref without matching ROOT_REF", "id", s.ID, "name", s.Name, "parent", s.Parent)
		}
		if r, ok := self.roots[s.ID]; ok {
			s.Generation = r.Item.Generation
			if r.Item.HasUUID {
				s.UUID = r.Item.UUID
				s.ParentUUID = r.Item.ParentUUID
			}
		}
	}
	sort.SliceStable(self.subvols, func(i, j int) bool {
		return self.subvols[i].ID < self.subvols[j].ID
	})
	mlog.Printf2("btrfs/roottree", "%d roots, %d subvolumes", len(self.roots), len(self.subvols))
	return nil
}

func (self *Volume) defaultSubvolume() (uint64, error) {
	var id uint64
	lo, hi := objectKeys(disk.RootTreeDirObjectID, disk.DirItemKey)
	_, err := self.walkTree(disk.RootTreeObjectID, lo, hi, VisitorFunc(func(it *disk.Item) (Result, error) {
		ents, err := disk.DecodeDirEntries(it.Data)
		if err != nil {
			return Stop, fmt.Errorf("%w: %v: %w", ErrCorruptMetadata, it.Key, err)
		}
		if len(ents) == 0 {
			return Continue, nil
		}
		id = ents[0].Location.ObjectID
		return Stop, nil
	}))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, ErrNotFound
	}
	return id, nil
}

// DefaultSubvolume returns the target of the first directory entry
// of the root tree directory ("default").
func (self *Volume) DefaultSubvolume() (uint64, error) {
	defer self.lock.Locked()()
	return self.defaultSubvolume()
}

func (self *Volume) subvolumeID(name string) (uint64, error) {
	var id uint64
	want := []byte(name)
	_, err := self.walk(self.sb.Root, disk.RootTreeObjectID, VisitorFunc(func(it *disk.Item) (Result, error) {
		if it.Key.Type != disk.RootBackrefKey {
			return Continue, nil
		}
		ref, err := disk.DecodeRootRef(it.Data)
		if err != nil {
			return Stop, fmt.Errorf("%w: %v: %w", ErrCorruptMetadata, it.Key, err)
		}
		if !bytes.Equal(ref.Name, want) {
			return Continue, nil
		}
		id = it.Key.ObjectID
		return Stop, nil
	}))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, ErrNotFound
	}
	return id, nil
}

// SubvolumeID finds a subvolume by the name of its ROOT_BACKREF.
func (self *Volume) SubvolumeID(name string) (uint64, error) {
	defer self.lock.Locked()()
	return self.subvolumeID(name)
}

func (self *Volume) subvolumeExists(id uint64) (bool, error) {
	if id == disk.FSTreeObjectID {
		return true, nil
	}
	found := false
	lo, hi := objectKeys(id, 0)
	_, err := self.walkTree(disk.RootTreeObjectID, lo, hi, VisitorFunc(func(it *disk.Item) (Result, error) {
		if it.Key.Type == disk.RootItemKey || it.Key.Type == disk.RootBackrefKey {
			found = true
			return Stop, nil
		}
		return Continue, nil
	}))
	return found, err
}

// SubvolumeExists is true for FS_TREE and for any id with a ROOT_ITEM
// or ROOT_BACKREF.
func (self *Volume) SubvolumeExists(id uint64) (bool, error) {
	defer self.lock.Locked()()
	return self.subvolumeExists(id)
}

// TreeRoot returns the logical address and level of the root node of
// tree id.
func (self *Volume) TreeRoot(id uint64) (addr uint64, level uint8, err error) {
	switch id {
	case disk.RootTreeObjectID:
		return self.sb.Root, self.sb.RootLevel, nil
	case disk.ChunkTreeObjectID:
		return self.sb.ChunkRoot, self.sb.ChunkRootLevel, nil
	}
	r, ok := self.roots[id]
	if !ok {
		return 0, 0, fmt.Errorf("tree %d: %w", id, ErrNotFound)
	}
	return r.Item.Bytenr, r.Item.Level, nil
}

// Subvolumes lists the subvolumes by id.
func (self *Volume) Subvolumes() []Subvolume {
	return append([]Subvolume(nil), self.subvols...)
}

// subvolumeParent returns where subvolume id is linked from.
func (self *Volume) subvolumeParent(id uint64) (FileID, bool) {
	for _, s := range self.subvols {
		if s.ID == id {
			return FileID{Tree: s.Parent, Object: s.DirID}, true
		}
	}
	return FileID{}, false
}
