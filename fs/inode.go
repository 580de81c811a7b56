/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 08:21:32 2017 mstenber
 * Last modified: Fri Oct 16 15:55:02 2026 mstenber
 * Edit time:     371 min
 *
 */

package fs

import (
	"fmt"
	"sync/atomic"

	"github.com/fingon/go-btrfsro/btrfs"
	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/mlog"
	"github.com/fingon/go-btrfsro/util"
	"github.com/hanwen/go-fuse/fuse"
)

type inode struct {
	ino     uint64
	id      btrfs.FileID
	tracker *inodeTracker
	refcnt  int64
}

func (self *inode) Fs() *Fs {
	return self.tracker.fs
}

func (self *inode) Ops() *fsOps {
	return &self.tracker.fs.Ops
}

func (self *inode) String() string {
	return fmt.Sprintf("inode{%v %v rc:%v}", self.ino, self.id, self.refcnt)
}

// Package returns the file package of the inode, or nil if the object
// no longer resolves.
func (self *inode) Package() (*btrfs.FilePkg, fuse.Status) {
	pkg, err := self.Fs().FilePackage(self.id)
	if err != nil {
		return nil, status(err)
	}
	return pkg, fuse.OK
}

func (self *inode) addRefCount(refcnt int64) {
	refcnt = atomic.AddInt64(&self.refcnt, refcnt)
	if refcnt == 0 {
		defer self.tracker.inodeLock.Locked()()
		// was taken by someone
		if atomic.LoadInt64(&self.refcnt) > 0 {
			return
		}
		if self.tracker.ino2inode[self.ino] == self {
			delete(self.tracker.ino2inode, self.ino)
		}
	}
}

func timespecToFuse(t disk.Timespec, seconds *uint64, parts *uint32) {
	*seconds = uint64(t.Sec)
	*parts = t.Nsec
}

func fillAttr(out *fuse.Attr, ino uint64, meta *disk.InodeItem) {
	out.Ino = ino
	out.Size = meta.Size
	out.Blocks = (meta.NBytes + blockSize - 1) / blockSize
	timespecToFuse(meta.Atime, &out.Atime, &out.Atimensec)
	timespecToFuse(meta.Ctime, &out.Ctime, &out.Ctimensec)
	timespecToFuse(meta.Mtime, &out.Mtime, &out.Mtimensec)
	out.Mode = meta.Mode
	out.Nlink = meta.NLink
	out.Uid = meta.UID
	out.Gid = meta.GID
	out.Rdev = uint32(meta.RDev)
}

func (self *inode) FillAttr(out *fuse.Attr) fuse.Status {
	pkg, code := self.Package()
	if !code.Ok() {
		return code
	}
	fillAttr(out, self.ino, &pkg.Inode)
	if pkg.IsDir() && out.Nlink == 0 {
		out.Nlink = 1
	}
	return fuse.OK
}

func (self *inode) FillAttrOut(out *fuse.AttrOut) fuse.Status {
	out.AttrValid = attrValidity
	out.AttrValidNsec = 0
	return self.FillAttr(&out.Attr)
}

func (self *inode) FillEntryOut(out *fuse.EntryOut) fuse.Status {
	if out == nil {
		return fuse.OK
	}
	code := self.FillAttr(&out.Attr)
	if !code.Ok() {
		return code
	}
	out.NodeId = self.ino
	out.Generation = 0
	out.EntryValid = entryValidity
	out.AttrValid = attrValidity
	out.EntryValidNsec = 0
	out.AttrValidNsec = 0

	// The kernel holds a lookup reference until Forget
	self.Refer()
	return fuse.OK
}

// GetChildByName returns a referred child inode (or nil and the reason).
func (self *inode) GetChildByName(name string) (*inode, fuse.Status) {
	mlog.Printf2("fs/inode", "GetChildByName %s", name)
	switch name {
	case ".":
		self.Refer()
		return self, fuse.OK
	case "..":
		pkg, code := self.Package()
		if !code.Ok() {
			return nil, code
		}
		// never above the mounted root
		if pkg.Parent.Object == 0 || self.id == self.Fs().vol.Root() {
			self.Refer()
			return self, fuse.OK
		}
		return self.tracker.GetInodeByID(pkg.Parent)
	}
	id, err := self.Fs().vol.NameToID(self.id, name)
	if err != nil {
		mlog.Printf2("fs/inode", " %v", err)
		return nil, status(err)
	}
	return self.tracker.GetInodeByID(id)
}

func (self *inode) GetFile(flags uint32) (*inodeFH, fuse.Status) {
	file := &inodeFH{inode: self, flags: flags}
	pkg, code := self.Package()
	if !code.Ok() {
		return nil, code
	}
	file.pkg = pkg
	if pkg.IsDir() {
		ents, err := self.Fs().vol.ListDir(self.id)
		if err != nil {
			return nil, status(err)
		}
		file.entries = ents
	}
	self.Refer()
	self.tracker.AddFile(file)
	return file, fuse.OK
}

func (self *inode) GetXAttr(attr string) (data []byte, code fuse.Status) {
	l, err := self.Fs().vol.XAttrs(self.id)
	if err != nil {
		return nil, status(err)
	}
	for _, x := range l {
		if x.Name == attr {
			return x.Value, fuse.OK
		}
	}
	return nil, errNoData
}

func (self *inode) IsDir() bool {
	pkg, code := self.Package()
	return code.Ok() && pkg.IsDir()
}

func (self *inode) Refer() {
	self.addRefCount(1)
}

func (self *inode) Release() {
	if self == nil {
		return
	}
	self.addRefCount(-1)
}

func (self *inode) Forget(nlookup uint64) {
	if self == nil {
		return
	}
	self.addRefCount(-int64(nlookup))
}

type inodeTracker struct {
	inodeLock util.MutexLocked
	ino2inode map[uint64]*inode
	fh2ifile  map[uint64]*inodeFH
	fs        *Fs
	nextFh    uint64
}

func (self *inodeTracker) Init(fs *Fs) {
	self.ino2inode = make(map[uint64]*inode)
	self.fh2ifile = make(map[uint64]*inodeFH)
	self.fs = fs
	self.nextFh = 1
}

// idToIno returns the FUSE inode number of id; false if the object
// id does not fit the numbering.
func (self *inodeTracker) idToIno(id btrfs.FileID) (uint64, bool) {
	root := self.fs.vol.Root()
	switch {
	case id == root:
		return fuse.FUSE_ROOT_ID, true
	case id.Object > objectMask || id.Tree > ^uint64(0)>>treeShift:
		return 0, false
	case id.Tree == root.Tree:
		return id.Object, true
	}
	return id.Tree<<treeShift | id.Object, true
}

func (self *inodeTracker) inoToID(ino uint64) btrfs.FileID {
	root := self.fs.vol.Root()
	if ino == fuse.FUSE_ROOT_ID {
		return root
	}
	tree := ino >> treeShift
	if tree == 0 {
		tree = root.Tree
	}
	return btrfs.FileID{Tree: tree, Object: ino & objectMask}
}

func (self *inodeTracker) AddFile(file *inodeFH) {
	defer self.inodeLock.Locked()()
	self.nextFh++
	fh := self.nextFh
	file.fh = fh
	self.fh2ifile[fh] = file
}

func (self *inodeTracker) getInode(ino uint64, id btrfs.FileID) *inode {
	n := self.ino2inode[ino]
	if n == nil {
		n = &inode{ino: ino, id: id, tracker: self}
		self.ino2inode[ino] = n
	}
	atomic.AddInt64(&n.refcnt, 1)
	return n
}

// GetInode returns a referred inode for a FUSE inode number, or nil
// if it does not name an existing object.
func (self *inodeTracker) GetInode(ino uint64) *inode {
	mlog.Printf2("fs/inode", "GetInode %v", ino)
	if ino == 0 {
		return nil
	}
	id := self.inoToID(ino)
	unlock := self.inodeLock.Locked()
	inode := self.getInode(ino, id)
	unlock()
	if _, code := inode.Package(); !code.Ok() {
		mlog.Printf2("fs/inode", " no package")
		inode.Release()
		return nil
	}
	return inode
}

func (self *inodeTracker) GetInodeByID(id btrfs.FileID) (*inode, fuse.Status) {
	ino, ok := self.idToIno(id)
	if !ok {
		mlog.Printf2("fs/inode", "GetInodeByID %v does not fit", id)
		return nil, fuse.EIO
	}
	inode := self.GetInode(ino)
	if inode == nil {
		return nil, fuse.ENOENT
	}
	return inode, fuse.OK
}

func (self *inodeTracker) GetFileByFh(fh uint64) *inodeFH {
	defer self.inodeLock.Locked()()
	return self.fh2ifile[fh]
}

// Inodes is the number of inodes currently referenced.
func (self *inodeTracker) Inodes() int {
	defer self.inodeLock.Locked()()
	return len(self.ino2inode)
}
