/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Thu Oct 15 10:02:17 2026 mstenber
 * Last modified: Fri Oct 16 11:40:09 2026 mstenber
 * Edit time:     118 min
 *
 */

package btrfs

import (
	"bytes"
	"fmt"

	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/mlog"
)

// RootDirName is what the root directory of a tree is called; it has
// no directory entry of its own.
const RootDirName = "ROOT_DIR"

const maxSymlinkLen = 4096

// Extent is one EXTENT_DATA item of a file.
type Extent struct {
	FileOffset uint64
	disk.ExtentData
}

// FilePkg is everything needed to stat and read one file.
type FilePkg struct {
	ID      FileID
	Parent  FileID
	Name    string
	Hidden  bool
	Inode   disk.InodeItem
	Extents []Extent
}

func (self *FilePkg) IsDir() bool {
	return self.Inode.IsDir()
}

// DirEntry is one directory listing entry.
type DirEntry struct {
	Name   string
	ID     FileID
	Type   uint8
	Hidden bool
	Inode  disk.InodeItem
}

type XAttr struct {
	Name  string
	Value []byte
}

func hiddenName(name string) bool {
	return len(name) > 0 && name[0] == '.' && name != "." && name != ".."
}

func corrupt(k disk.Key, err error) error {
	return fmt.Errorf("%w: %v: %w", ErrCorruptMetadata, k, err)
}

// entryTarget is what a directory entry points at: an inode in the
// same tree, or the root directory of another subvolume.
func entryTarget(tree uint64, e *disk.DirEntry) (FileID, error) {
	switch e.Location.Type {
	case disk.InodeItemKey:
		return FileID{Tree: tree, Object: e.Location.ObjectID}, nil
	case disk.RootItemKey:
		return FileID{Tree: e.Location.ObjectID, Object: disk.RootDirObjectID}, nil
	}
	return FileID{}, fmt.Errorf("%w: entry %q location %v", ErrCorruptMetadata, e.Name, e.Location)
}

func (self *Volume) nameToID(dir FileID, name string) (FileID, uint8, error) {
	if len(name) == 0 || len(name) > disk.MaxNameLen {
		return FileID{}, 0, ErrNotFound
	}
	want := []byte(name)
	k := disk.Key{ObjectID: dir.Object, Type: disk.DirItemKey, Offset: disk.NameHash(want)}
	var found *disk.DirEntry
	_, err := self.walkTree(dir.Tree, k, k, VisitorFunc(func(it *disk.Item) (Result, error) {
		ents, err := disk.DecodeDirEntries(it.Data)
		if err != nil {
			return Stop, corrupt(it.Key, err)
		}
		for i := range ents {
			if bytes.Equal(ents[i].Name, want) {
				found = &ents[i]
				return Stop, nil
			}
		}
		return Continue, nil
	}))
	if err != nil {
		return FileID{}, 0, err
	}
	if found == nil {
		return FileID{}, 0, ErrNotFound
	}
	id, err := entryTarget(dir.Tree, found)
	mlog.Printf2("btrfs/fstree", "nameToID %v %q -> %v", dir, name, id)
	return id, found.Type, err
}

// NameToID looks up name in directory dir. Both the name hash and
// the name itself must match.
func (self *Volume) NameToID(dir FileID, name string) (FileID, error) {
	defer self.lock.Locked()()
	id, _, err := self.nameToID(dir, name)
	return id, err
}

func (self *Volume) filePackage(id FileID) (*FilePkg, error) {
	pkg := &FilePkg{ID: id}
	haveInode := false
	haveName := false
	lo, hi := objectKeys(id.Object, 0)
	_, err := self.walkTree(id.Tree, lo, hi, VisitorFunc(func(it *disk.Item) (Result, error) {
		switch it.Key.Type {
		case disk.InodeItemKey:
			ino, err := disk.DecodeInodeItem(it.Data)
			if err != nil {
				return Stop, corrupt(it.Key, err)
			}
			pkg.Inode = ino
			haveInode = true
		case disk.InodeRefKey:
			refs, err := disk.DecodeInodeRefs(it.Data)
			if err != nil {
				return Stop, corrupt(it.Key, err)
			}
			if !haveName && len(refs) > 0 {
				pkg.Name = string(refs[0].Name)
				pkg.Parent = FileID{Tree: id.Tree, Object: it.Key.Offset}
				haveName = true
			}
		case disk.InodeExtrefKey:
			refs, err := disk.DecodeInodeExtrefs(it.Data)
			if err != nil {
				return Stop, corrupt(it.Key, err)
			}
			if !haveName && len(refs) > 0 {
				pkg.Name = string(refs[0].Name)
				pkg.Parent = FileID{Tree: id.Tree, Object: refs[0].Parent}
				haveName = true
			}
		case disk.ExtentDataKey:
			x, err := disk.DecodeExtentData(it.Data)
			if err != nil {
				return Stop, corrupt(it.Key, err)
			}
			pkg.Extents = append(pkg.Extents, Extent{FileOffset: it.Key.Offset, ExtentData: x})
		case disk.XattrItemKey:
		default:
			self.notice("item type", disk.ItemTypeName(it.Key.Type))
		}
		return Continue, nil
	}))
	if err != nil {
		return nil, err
	}
	if !haveInode {
		return nil, fmt.Errorf("inode %v: %w", id, ErrNotFound)
	}
	if id.Object == disk.RootDirObjectID {
		pkg.Name = RootDirName
		pkg.Parent = FileID{}
		if id.Tree != self.subvol {
			if p, ok := self.subvolumeParent(id.Tree); ok {
				pkg.Parent = p
			}
		}
	}
	pkg.Hidden = hiddenName(pkg.Name)
	return pkg, nil
}

// FilePackage collects inode, name, parent and extents of id.
func (self *Volume) FilePackage(id FileID) (*FilePkg, error) {
	defer self.lock.Locked()()
	return self.filePackage(id)
}

func (self *Volume) inode(id FileID) (disk.InodeItem, error) {
	var ino disk.InodeItem
	found := false
	k := disk.Key{ObjectID: id.Object, Type: disk.InodeItemKey}
	_, err := self.walkTree(id.Tree, k, k, VisitorFunc(func(it *disk.Item) (Result, error) {
		var err error
		ino, err = disk.DecodeInodeItem(it.Data)
		if err != nil {
			return Stop, corrupt(it.Key, err)
		}
		found = true
		return Stop, nil
	}))
	if err != nil {
		return ino, err
	}
	if !found {
		return ino, fmt.Errorf("inode %v: %w", id, ErrNotFound)
	}
	return ino, nil
}

func (self *Volume) Inode(id FileID) (disk.InodeItem, error) {
	defer self.lock.Locked()()
	return self.inode(id)
}

// isRoot is true for the root directory of the selected subvolume.
func (self *Volume) isRoot(id FileID) bool {
	return id == self.Root()
}

func (self *Volume) listDir(dir FileID) ([]DirEntry, error) {
	pkg, err := self.filePackage(dir)
	if err != nil {
		return nil, err
	}
	if !pkg.IsDir() {
		return nil, fmt.Errorf("%v: %w", dir, ErrNotDir)
	}
	var r []DirEntry
	if !self.isRoot(dir) {
		r = append(r, DirEntry{Name: ".", ID: dir, Type: disk.FTDir, Inode: pkg.Inode})
		parent := DirEntry{Name: "..", ID: pkg.Parent, Type: disk.FTDir, Inode: pkg.Inode}
		if pkg.Parent.Object != 0 {
			ino, err := self.inode(pkg.Parent)
			if err != nil {
				return nil, err
			}
			parent.Inode = ino
		} else {
			parent.ID = dir
		}
		r = append(r, parent)
	}
	first := len(r)
	lo, hi := objectKeys(dir.Object, disk.DirIndexKey)
	_, err = self.walkTree(dir.Tree, lo, hi, VisitorFunc(func(it *disk.Item) (Result, error) {
		ents, err := disk.DecodeDirEntries(it.Data)
		if err != nil {
			return Stop, corrupt(it.Key, err)
		}
		for i := range ents {
			id, err := entryTarget(dir.Tree, &ents[i])
			if err != nil {
				return Stop, err
			}
			name := string(ents[i].Name)
			r = append(r, DirEntry{Name: name, ID: id, Type: ents[i].Type, Hidden: hiddenName(name)})
		}
		return Continue, nil
	}))
	if err != nil {
		return nil, err
	}
	for i := first; i < len(r); i++ {
		ino, err := self.inode(r[i].ID)
		if err != nil {
			return nil, err
		}
		r[i].Inode = ino
	}
	return r, nil
}

// ListDir lists directory dir. Every directory except the root of
// the selected subvolume starts with "." and "..".
func (self *Volume) ListDir(dir FileID) ([]DirEntry, error) {
	defer self.lock.Locked()()
	return self.listDir(dir)
}

func (self *Volume) xattrs(id FileID) ([]XAttr, error) {
	var r []XAttr
	lo, hi := objectKeys(id.Object, disk.XattrItemKey)
	_, err := self.walkTree(id.Tree, lo, hi, VisitorFunc(func(it *disk.Item) (Result, error) {
		ents, err := disk.DecodeDirEntries(it.Data)
		if err != nil {
			return Stop, corrupt(it.Key, err)
		}
		for _, e := range ents {
			r = append(r, XAttr{Name: string(e.Name), Value: append([]byte(nil), e.Data...)})
		}
		return Continue, nil
	}))
	return r, err
}

// XAttrs lists the extended attributes of id.
func (self *Volume) XAttrs(id FileID) ([]XAttr, error) {
	defer self.lock.Locked()()
	return self.xattrs(id)
}

// Readlink returns the target of symlink id.
func (self *Volume) Readlink(id FileID) (string, error) {
	pkg, err := self.FilePackage(id)
	if err != nil {
		return "", err
	}
	if !pkg.Inode.IsSymlink() {
		return "", fmt.Errorf("%v: %w", id, ErrNotSymlink)
	}
	if pkg.Inode.Size > maxSymlinkLen {
		return "", fmt.Errorf("%w: symlink %v of %d bytes", ErrCorruptMetadata, id, pkg.Inode.Size)
	}
	b := make([]byte, pkg.Inode.Size)
	n, err := self.ReadFile(pkg, b, 0)
	if err != nil {
		return "", err
	}
	return string(b[:n]), nil
}
