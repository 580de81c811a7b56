/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Tue Jan  2 10:07:37 2018 mstenber
 * Last modified: Fri Oct 16 16:08:40 2026 mstenber
 * Edit time:     81 min
 *
 */

package fs

import (
	"github.com/fingon/go-btrfsro/btrfs"
	"github.com/fingon/go-btrfsro/mlog"
	"github.com/hanwen/go-fuse/fuse"
)

// inodeFH represents a single open instance of a file/directory.
type inodeFH struct {
	inode *inode
	fh    uint64
	flags uint32

	// package as of open; the volume never changes under us
	pkg *btrfs.FilePkg

	// directory listing as of open, and position in it
	entries []btrfs.DirEntry
	pos     uint64
}

// ReadNextEntry returns the directory entry at pos, or nil at the end.
func (self *inodeFH) ReadNextEntry() *btrfs.DirEntry {
	mlog.Printf2("fs/fh", "fh.ReadNextEntry %d/%d", self.pos, len(self.entries))
	if self.pos >= uint64(len(self.entries)) {
		return nil
	}
	return &self.entries[self.pos]
}

func (self *inodeFH) dirEntry(e *btrfs.DirEntry) (fuse.DirEntry, bool) {
	ino, ok := self.inode.tracker.idToIno(e.ID)
	return fuse.DirEntry{Mode: e.Inode.Mode, Name: e.Name, Ino: ino}, ok
}

func (self *inodeFH) ReadDirEntry(l *fuse.DirEntryList) bool {
	e := self.ReadNextEntry()
	if e == nil {
		mlog.Printf2("fs/fh", " nothing found")
		return false
	}
	de, ok := self.dirEntry(e)
	if !ok {
		// unreachable by inode number; skip
		self.pos++
		return true
	}
	ok, _ = l.AddDirEntry(de)
	if ok {
		self.pos++
	}
	return ok
}

func (self *inodeFH) ReadDirPlus(input *fuse.ReadIn, l *fuse.DirEntryList) bool {
	e := self.ReadNextEntry()
	if e == nil {
		return false
	}
	de, ok := self.dirEntry(e)
	if !ok {
		self.pos++
		return true
	}
	entry, _ := l.AddDirLookupEntry(de)
	if entry == nil {
		return false
	}
	*entry = fuse.EntryOut{}
	if e.Name != "." && e.Name != ".." {
		header := input.InHeader
		header.NodeId = self.inode.ino
		self.inode.Ops().Lookup(&header, e.Name, entry)
	}

	// Move on with things
	self.pos++
	return true
}

func (self *inodeFH) Fs() *Fs {
	return self.inode.Fs()
}

func (self *inodeFH) Release() {
	if self == nil {
		return
	}
	unlock := self.inode.tracker.inodeLock.Locked()
	delete(self.inode.tracker.fh2ifile, self.fh)
	unlock()
	self.inode.Release()
}

func (self *inodeFH) SetPos(pos uint64) {
	mlog.Printf2("fs/fh", "inodeFH.SetPos %d", pos)
	self.pos = pos
}

func (self *inodeFH) Read(buf []byte, offset uint64) (rr fuse.ReadResult, code fuse.Status) {
	mlog.Printf2("fs/fh", "fh.Read %v @%v", len(buf), offset)
	n, err := self.Fs().vol.ReadFile(self.pkg, buf, offset)
	if err != nil {
		return nil, status(err)
	}
	return fuse.ReadResultData(buf[:n]), fuse.OK
}
