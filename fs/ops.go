/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Thu Dec 28 12:52:43 2017 mstenber
 * Last modified: Fri Oct 16 16:31:20 2026 mstenber
 * Edit time:     366 min
 *
 */

package fs

import (
	"bytes"
	"os"

	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/mlog"
	. "github.com/hanwen/go-fuse/fuse"
)

// fsOps serves the read-only subset of RawFileSystem; whatever is not
// defined here is answered by the embedded default (ENOSYS).
type fsOps struct {
	RawFileSystem
	fs *Fs
}

var _ RawFileSystem = &fsOps{}

func (self *fsOps) Init(server *Server) {
	self.fs.server = server
}

func (self *fsOps) String() string {
	return "btrfsro"
}

func (self *fsOps) SetDebug(dbg bool) {
}

func (self *fsOps) StatFs(input *InHeader, out *StatfsOut) Status {
	bsize := uint64(self.fs.vol.Superblock().SectorSize)
	if bsize == 0 {
		bsize = blockSize
	}
	total, free := self.fs.vol.FreeSpace()
	out.Bsize = uint32(bsize)
	out.Frsize = uint32(bsize)
	out.Blocks = total / bsize
	out.Bfree = free / bsize
	out.Bavail = free / bsize
	out.NameLen = disk.MaxNameLen
	return OK
}

func (self *fsOps) access(inode *inode, mode uint32, ctx *Context) Status {
	if inode == nil {
		return ENOENT
	}
	if mode&W_OK != 0 {
		return errROFS
	}
	pkg, code := inode.Package()
	if !code.Ok() {
		return code
	}
	if ctx.Uid == 0 {
		return OK
	}
	meta := &pkg.Inode
	perms := meta.Mode & 0x7
	if ctx.Uid == meta.UID {
		perms |= (meta.Mode >> 6) & 0x7
	}
	if ctx.Gid == meta.GID {
		perms |= (meta.Mode >> 3) & 0x7
	}
	if (perms & mode) == mode {
		return OK
	}
	return EACCES
}

// lookup gets child of a parent.
func (self *fsOps) lookup(parent *inode, name string, ctx *Context) (child *inode, code Status) {
	if parent == nil {
		return nil, ENOENT
	}
	mlog.Printf2("fs/ops", "ops.lookup %v %s", parent.ino, name)
	code = self.access(parent, X_OK, ctx)
	if !code.Ok() {
		return
	}
	if !parent.IsDir() {
		code = ENOTDIR
		return
	}
	return parent.GetChildByName(name)
}

func (self *fsOps) Lookup(input *InHeader, name string, out *EntryOut) (code Status) {
	parent := self.fs.GetInode(input.NodeId)
	if parent == nil {
		return ENOENT
	}
	defer parent.Release()

	child, code := self.lookup(parent, name, &input.Context)
	if !code.Ok() {
		return
	}
	defer child.Release()
	return child.FillEntryOut(out)
}

func (self *fsOps) Forget(nodeID, nlookup uint64) {
	mlog.Printf2("fs/ops", "ops.Forget %v %v", nodeID, nlookup)
	unlock := self.fs.inodeLock.Locked()
	inode := self.fs.ino2inode[nodeID]
	unlock()
	inode.Forget(nlookup)
}

func (self *fsOps) GetAttr(input *GetAttrIn, out *AttrOut) (code Status) {
	inode := self.fs.GetInode(input.NodeId)
	if inode == nil {
		return ENOENT
	}
	defer inode.Release()
	return inode.FillAttrOut(out)
}

func (self *fsOps) open(input *OpenIn, out *OpenOut, dir bool) (code Status) {
	inode := self.fs.GetInode(input.NodeId)
	if inode == nil {
		return ENOENT
	}
	defer inode.Release()

	if input.Flags&uint32(os.O_WRONLY|os.O_RDWR|os.O_TRUNC|os.O_APPEND|os.O_CREATE) != 0 {
		return errROFS
	}
	mode := uint32(R_OK)
	if dir {
		mode |= X_OK
	}
	code = self.access(inode, mode, &input.Context)
	if !code.Ok() {
		return
	}
	if inode.IsDir() != dir {
		if dir {
			return ENOTDIR
		}
		return EISDIR
	}
	file, code := inode.GetFile(input.Flags)
	if !code.Ok() {
		return
	}
	out.Fh = file.fh
	// contents never change
	out.OpenFlags |= FOPEN_KEEP_CACHE
	return OK
}

func (self *fsOps) OpenDir(input *OpenIn, out *OpenOut) (code Status) {
	mlog.Printf2("fs/ops", "ops.OpenDir %v", input.NodeId)
	return self.open(input, out, true)
}

func (self *fsOps) Open(input *OpenIn, out *OpenOut) (code Status) {
	mlog.Printf2("fs/ops", "ops.Open %v", input.NodeId)
	return self.open(input, out, false)
}

func (self *fsOps) Release(input *ReleaseIn) {
	self.fs.GetFileByFh(input.Fh).Release()
}

func (self *fsOps) ReleaseDir(input *ReleaseIn) {
	self.fs.GetFileByFh(input.Fh).Release()
}

func (self *fsOps) ReadDir(input *ReadIn, l *DirEntryList) Status {
	dir := self.fs.GetFileByFh(input.Fh)
	if dir == nil {
		return EBADF
	}
	dir.SetPos(input.Offset)
	for dir.ReadDirEntry(l) {
	}
	return OK
}

func (self *fsOps) ReadDirPlus(input *ReadIn, l *DirEntryList) Status {
	dir := self.fs.GetFileByFh(input.Fh)
	if dir == nil {
		return EBADF
	}
	dir.SetPos(input.Offset)
	for dir.ReadDirPlus(input, l) {
	}
	return OK
}

func (self *fsOps) Read(input *ReadIn, buf []byte) (ReadResult, Status) {
	file := self.fs.GetFileByFh(input.Fh)
	if file == nil {
		return nil, EBADF
	}
	return file.Read(buf, input.Offset)
}

// Nothing is ever dirty.
func (self *fsOps) Flush(input *FlushIn) Status {
	return OK
}

func (self *fsOps) Fsync(input *FsyncIn) (code Status) {
	return OK
}

func (self *fsOps) FsyncDir(input *FsyncIn) (code Status) {
	return OK
}

func (self *fsOps) Readlink(input *InHeader) (out []byte, code Status) {
	inode := self.fs.GetInode(input.NodeId)
	if inode == nil {
		return nil, ENOENT
	}
	defer inode.Release()

	code = self.access(inode, R_OK, &input.Context)
	if !code.Ok() {
		return
	}
	target, err := self.fs.vol.Readlink(inode.id)
	if err != nil {
		return nil, status(err)
	}
	return []byte(target), OK
}

func (self *fsOps) GetXAttrSize(input *InHeader, attr string) (size int, code Status) {
	b, code := self.GetXAttrData(input, attr)
	if !code.Ok() {
		return
	}
	return len(b), code
}

func (self *fsOps) GetXAttrData(input *InHeader, attr string) (data []byte, code Status) {
	inode := self.fs.GetInode(input.NodeId)
	if inode == nil {
		return nil, ENOENT
	}
	defer inode.Release()

	code = self.access(inode, R_OK, &input.Context)
	if !code.Ok() {
		return
	}
	return inode.GetXAttr(attr)
}

func (self *fsOps) ListXAttr(input *InHeader) (data []byte, code Status) {
	inode := self.fs.GetInode(input.NodeId)
	if inode == nil {
		return nil, ENOENT
	}
	defer inode.Release()

	code = self.access(inode, R_OK, &input.Context)
	if !code.Ok() {
		return
	}
	l, err := self.fs.vol.XAttrs(inode.id)
	if err != nil {
		return nil, status(err)
	}
	b := bytes.NewBuffer([]byte{})
	for _, x := range l {
		b.WriteString(x.Name)
		b.WriteByte(0)
	}
	return b.Bytes(), OK
}

func (self *fsOps) Access(input *AccessIn) (code Status) {
	inode := self.fs.GetInode(input.NodeId)
	if inode == nil {
		return ENOENT
	}
	defer inode.Release()
	return self.access(inode, input.Mask, &input.Context)
}

// Everything below would modify the volume.

func (self *fsOps) SetAttr(input *SetAttrIn, out *AttrOut) (code Status) {
	return errROFS
}

func (self *fsOps) Mknod(input *MknodIn, name string, out *EntryOut) (code Status) {
	return errROFS
}

func (self *fsOps) Mkdir(input *MkdirIn, name string, out *EntryOut) (code Status) {
	return errROFS
}

func (self *fsOps) Unlink(input *InHeader, name string) (code Status) {
	return errROFS
}

func (self *fsOps) Rmdir(input *InHeader, name string) (code Status) {
	return errROFS
}

func (self *fsOps) Rename(input *RenameIn, oldName string, newName string) (code Status) {
	return errROFS
}

func (self *fsOps) Link(input *LinkIn, name string, out *EntryOut) (code Status) {
	return errROFS
}

func (self *fsOps) Symlink(input *InHeader, pointedTo string, linkName string, out *EntryOut) (code Status) {
	return errROFS
}

func (self *fsOps) SetXAttr(input *SetXAttrIn, attr string, data []byte) (code Status) {
	return errROFS
}

func (self *fsOps) RemoveXAttr(input *InHeader, attr string) (code Status) {
	return errROFS
}

func (self *fsOps) Create(input *CreateIn, name string, out *CreateOut) (code Status) {
	return errROFS
}

func (self *fsOps) Write(input *WriteIn, data []byte) (written uint32, code Status) {
	return 0, errROFS
}

func (self *fsOps) Fallocate(in *FallocateIn) (code Status) {
	return errROFS
}
