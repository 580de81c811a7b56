/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Thu Dec 28 11:20:29 2017 mstenber
 * Last modified: Fri Oct 16 15:40:37 2026 mstenber
 * Edit time:     361 min
 *
 */

// fs package implements fuse.RawFileSystem on top of a read-only
// btrfs.Volume.
//
// The low-level API is used as directory listings are produced from
// tree walks, and inode numbers need a fixed relationship with the
// (tree, object) pairs of the volume.
package fs

import (
	"errors"
	"os"

	"github.com/bluele/gcache"
	"github.com/fingon/go-btrfsro/btrfs"
	"github.com/fingon/go-btrfsro/logger"
	"github.com/fingon/go-btrfsro/mlog"
	"github.com/hanwen/go-fuse/fuse"
)

type Options struct {
	// NodeCache is the number of file packages (inode + extents)
	// kept in the ARC cache; 0 disables the cache.
	NodeCache int
}

type Fs struct {
	// These have their own locking or are used in single-threaded way
	inodeTracker
	Ops      fsOps
	server   *fuse.Server
	vol      *btrfs.Volume
	pkgCache gcache.Cache
}

func NewFs(vol *btrfs.Volume, opts Options) *Fs {
	fs := &Fs{vol: vol}
	if opts.NodeCache > 0 {
		fs.pkgCache = gcache.New(opts.NodeCache).ARC().Build()
	}
	fs.Ops.fs = fs
	fs.Ops.RawFileSystem = fuse.NewDefaultRawFileSystem()
	fs.inodeTracker.Init(fs)
	return fs
}

func (self *Fs) Volume() *btrfs.Volume {
	return self.vol
}

func (self *Fs) Close() error {
	mlog.Printf2("fs/fs", "fs.Close")
	return self.vol.Close()
}

// FilePackage returns the (shared, not to be modified) package of
// id, from the cache if possible.
func (self *Fs) FilePackage(id btrfs.FileID) (*btrfs.FilePkg, error) {
	if self.pkgCache != nil {
		if v, err := self.pkgCache.Get(id); err == nil {
			mlog.Printf2("fs/fs", "fs.FilePackage found %v in cache", id)
			return v.(*btrfs.FilePkg), nil
		}
	}
	pkg, err := self.vol.FilePackage(id)
	if err != nil {
		return nil, err
	}
	if self.pkgCache != nil {
		self.pkgCache.Set(id, pkg)
	}
	return pkg, nil
}

// ListDir provides testing utility as output of ReadDir/ReadDirPlus
// is binary garbage and I am too lazy to write a decoder for it.
func (self *Fs) ListDir(ino uint64) (ret []string) {
	mlog.Printf2("fs/fs", "Fs.ListDir #%d", ino)
	inode := self.GetInode(ino)
	if inode == nil {
		return
	}
	defer inode.Release()

	file, code := inode.GetFile(uint32(os.O_RDONLY))
	if !code.Ok() {
		return
	}
	defer file.Release()
	for {
		e := file.ReadNextEntry()
		if e == nil {
			return
		}
		file.pos++
		mlog.Printf2("fs/fs", " %s", e.Name)
		ret = append(ret, e.Name)
	}
}

// status converts volume errors to what the kernel expects.
func status(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case errors.Is(err, btrfs.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, btrfs.ErrNotDir):
		return fuse.ENOTDIR
	case errors.Is(err, btrfs.ErrNotSymlink):
		return fuse.EINVAL
	}
	logger.Errorw("filesystem operation failed", err)
	return fuse.EIO
}
