/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 15:39:36 2017 mstenber
 * Last modified: Fri Oct 16 16:52:10 2026 mstenber
 * Edit time:     131 min
 *
 */

package fs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fingon/go-btrfsro/btrfs"
	"github.com/fingon/go-btrfsro/mlog"
	"github.com/hanwen/go-fuse/fuse"
)

func s2e(status fuse.Status) error {
	if !status.Ok() {
		return errors.New(fmt.Sprintf("%s", status.String()))
	}
	return nil
}

// FSUser provides ~os module functionality across the raw fuse APIs,
// without mounting anything. The embedded InHeader carries the
// simulated caller's credentials.
type FSUser struct {
	fuse.InHeader
	fs *Fs
}

type fileInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	mtime time.Time
	ino   uint64
	nlink uint32
}

func (self *fileInfo) Name() string {
	return self.name
}

func (self *fileInfo) Size() int64 {
	return self.size
}

func (self *fileInfo) Mode() os.FileMode {
	return self.mode
}

func (self *fileInfo) ModTime() time.Time {
	return self.mtime
}

func (self *fileInfo) IsDir() bool {
	return self.Mode().IsDir()
}

// Sys returns the FUSE inode number.
func (self *fileInfo) Sys() interface{} {
	return self.ino
}

func fileModeFromFuse(mode uint32) os.FileMode {
	r := os.FileMode(mode) & os.ModePerm
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		r |= os.ModeDir
	case syscall.S_IFLNK:
		r |= os.ModeSymlink
	case syscall.S_IFIFO:
		r |= os.ModeNamedPipe
	case syscall.S_IFSOCK:
		r |= os.ModeSocket
	case syscall.S_IFCHR:
		r |= os.ModeDevice | os.ModeCharDevice
	case syscall.S_IFBLK:
		r |= os.ModeDevice
	}
	return r
}

func NewFSUser(fs *Fs) *FSUser {
	return &FSUser{fs: fs}
}

func (self *FSUser) ops() *fsOps {
	return &self.fs.Ops
}

func (self *FSUser) lookup(path string, eo *fuse.EntryOut) (err error) {
	inode := uint64(fuse.FUSE_ROOT_ID)
	for _, name := range btrfs.SplitPath(path) {
		self.NodeId = inode
		err = s2e(self.ops().Lookup(&self.InHeader, name, eo))
		if err != nil {
			return
		}
		// one reference per successful lookup, as the kernel would
		defer self.ops().Forget(eo.NodeId, 1)
		inode = eo.NodeId
	}
	self.NodeId = inode
	var ao fuse.AttrOut
	err = s2e(self.ops().GetAttr(&fuse.GetAttrIn{InHeader: self.InHeader}, &ao))
	eo.NodeId = inode
	eo.Attr = ao.Attr
	return
}

func (self *FSUser) ListDir(name string) (ret []string, err error) {
	var eo fuse.EntryOut
	err = self.lookup(name, &eo)
	if err != nil {
		return
	}
	var oo fuse.OpenOut
	err = s2e(self.ops().OpenDir(&fuse.OpenIn{InHeader: self.InHeader}, &oo))
	if err != nil {
		return
	}
	defer self.ops().ReleaseDir(&fuse.ReleaseIn{Fh: oo.Fh, InHeader: self.InHeader})
	del := fuse.NewDirEntryList(make([]byte, 1000), 0)
	err = s2e(self.ops().ReadDir(&fuse.ReadIn{Fh: oo.Fh,
		InHeader: self.InHeader}, del))
	if err != nil {
		return
	}
	del = fuse.NewDirEntryList(make([]byte, 4000), 0)
	err = s2e(self.ops().ReadDirPlus(&fuse.ReadIn{Fh: oo.Fh,
		InHeader: self.InHeader}, del))
	if err != nil {
		return
	}
	// We got _something_. No way to make sure it was fine. Oh well.
	// Cheat using backdoor API.
	ret = self.fs.ListDir(eo.NodeId)
	return
}

// ReadDir is clone of ioutil.ReadDir
func (self *FSUser) ReadDir(dirname string) (ret []os.FileInfo, err error) {
	mlog.Printf2("fs/fsuser", "ReadDir %s", dirname)
	l, err := self.ListDir(dirname)
	if err != nil {
		return
	}
	mlog.Printf2("fs/fsuser", " ListDir:%v", l)
	for _, n := range l {
		if n == "." || n == ".." {
			continue
		}
		var fi os.FileInfo
		fi, err = self.Lstat(fmt.Sprintf("%s/%s", dirname, n))
		if err != nil {
			return
		}
		ret = append(ret, fi)
	}
	return
}

// Lstat is clone of os.Lstat; symlinks are never followed here.
func (self *FSUser) Lstat(path string) (fi os.FileInfo, err error) {
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err != nil {
		return
	}
	_, basename := filepath.Split(strings.TrimRight(path, "/"))
	fi = &fileInfo{name: basename,
		size:  int64(eo.Size),
		mode:  fileModeFromFuse(eo.Mode),
		mtime: time.Unix(int64(eo.Mtime), int64(eo.Mtimensec)),
		ino:   eo.NodeId,
		nlink: eo.Nlink}
	return
}

// ReadFile is clone of ioutil.ReadFile
func (self *FSUser) ReadFile(path string) (b []byte, err error) {
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err != nil {
		return
	}
	var oo fuse.OpenOut
	err = s2e(self.ops().Open(&fuse.OpenIn{InHeader: self.InHeader,
		Flags: uint32(os.O_RDONLY)}, &oo))
	if err != nil {
		return
	}
	defer self.ops().Release(&fuse.ReleaseIn{Fh: oo.Fh, InHeader: self.InHeader})
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		rr, code := self.ops().Read(&fuse.ReadIn{InHeader: self.InHeader,
			Fh: oo.Fh, Offset: uint64(out.Len()), Size: uint32(len(buf))}, buf)
		err = s2e(code)
		if err != nil {
			return
		}
		data, code := rr.Bytes(buf)
		err = s2e(code)
		if err != nil {
			return
		}
		if len(data) == 0 {
			return out.Bytes(), nil
		}
		out.Write(data)
	}
}

// OpenWrite tries to open path for writing; it always fails.
func (self *FSUser) OpenWrite(path string) (err error) {
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err != nil {
		return
	}
	var oo fuse.OpenOut
	return s2e(self.ops().Open(&fuse.OpenIn{InHeader: self.InHeader,
		Flags: uint32(os.O_WRONLY)}, &oo))
}

func (self *FSUser) Readlink(path string) (s string, err error) {
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err != nil {
		return
	}
	b, code := self.ops().Readlink(&self.InHeader)
	return string(b), s2e(code)
}

// MkDir is clone of os.MkDir
func (self *FSUser) Mkdir(path string, perm os.FileMode) (err error) {
	dirname, basename := filepath.Split(path)

	var eo fuse.EntryOut
	err = self.lookup(dirname, &eo)
	if err != nil {
		return
	}
	err = s2e(self.ops().Mkdir(&fuse.MkdirIn{InHeader: self.InHeader,
		Mode: uint32(perm)}, basename, &eo))
	return
}

// Remove is clone of os.Remove
func (self *FSUser) Remove(path string) (err error) {
	fi, err := self.Lstat(path)
	if err != nil {
		return
	}
	dirname, basename := filepath.Split(path)
	var eo fuse.EntryOut
	err = self.lookup(dirname, &eo)
	if err != nil {
		return
	}
	if fi.IsDir() {
		err = s2e(self.ops().Rmdir(&self.InHeader, basename))
	} else {
		err = s2e(self.ops().Unlink(&self.InHeader, basename))
	}
	return
}

func (self *FSUser) GetXAttr(path, attr string) (b []byte, err error) {
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err != nil {
		return
	}
	b, code := self.ops().GetXAttrData(&self.InHeader, attr)
	err = s2e(code)
	if err != nil {
		return
	}
	l, code := self.ops().GetXAttrSize(&self.InHeader, attr)
	err = s2e(code)
	if err != nil {
		return
	}
	if l != len(b) {
		log.Panic("length mismatch in GetXAttrSize", l, len(b))
	}
	return
}

func (self *FSUser) ListXAttr(path string) (s []string, err error) {
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err != nil {
		return
	}
	b, code := self.ops().ListXAttr(&self.InHeader)
	err = s2e(code)
	if err != nil {
		return
	}
	bl := bytes.Split(b, []byte{0})
	s = make([]string, len(bl)-1) // always at least one extra
	for i, v := range bl[:len(bl)-1] {
		s[i] = string(v)
	}
	return
}

func (self *FSUser) SetXAttr(path, attr string, data []byte) (err error) {
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err != nil {
		return
	}
	return s2e(self.ops().SetXAttr(&fuse.SetXAttrIn{InHeader: self.InHeader,
		Size: uint32(len(data))}, attr, data))
}

// Copy writes the file at path to w.
func (self *FSUser) Copy(w io.Writer, path string) error {
	b, err := self.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
