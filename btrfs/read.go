/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Thu Oct 15 14:02:33 2026 mstenber
 * Last modified: Fri Oct 16 12:07:19 2026 mstenber
 * Edit time:     63 min
 *
 */

package btrfs

import (
	"fmt"

	"github.com/fingon/go-btrfsro/codec"
	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/mlog"
)

// Largest extent (compressed or not) read in one go; btrfs itself
// caps compressed extents at 128k and regular ones at 128M.
const maxExtentRead = 128 << 20

// ReadFile reads file data at offset into buf and returns the number
// of bytes produced. Holes, prealloc extents and gaps between extents
// read as zeros; nothing is returned past the end of the file.
//
// Only immutable volume state is used, so no lock is taken.
func (self *Volume) ReadFile(pkg *FilePkg, buf []byte, offset uint64) (int, error) {
	size := pkg.Inode.Size
	if offset >= size {
		return 0, nil
	}
	n := uint64(len(buf))
	if n > size-offset {
		n = size - offset
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = 0
	}
	end := offset + n
	for i := range pkg.Extents {
		x := &pkg.Extents[i]
		xstart := x.FileOffset
		xend := xstart + x.Len()
		if xend <= offset || xstart >= end {
			continue
		}
		from := offset
		if xstart > from {
			from = xstart
		}
		to := end
		if xend < to {
			to = xend
		}
		dst := buf[from-offset : to-offset]
		if err := self.readExtent(pkg, x, from-xstart, dst); err != nil {
			return 0, err
		}
	}
	mlog.Printf2("btrfs/read", "ReadFile %v @%d: %d bytes", pkg.ID, offset, n)
	return int(n), nil
}

// readExtent fills dst with extent bytes starting at rel bytes into
// the extent.
func (self *Volume) readExtent(pkg *FilePkg, x *Extent, rel uint64, dst []byte) error {
	if x.Encryption != 0 || x.OtherEncoding != 0 {
		self.notice("extent encoding", fmt.Sprintf("encryption %d other %d", x.Encryption, x.OtherEncoding))
		return fmt.Errorf("extent %v@%d: %w", pkg.ID, x.FileOffset, codec.ErrUnsupported)
	}
	switch x.Type {
	case disk.FileExtentInline:
		data := x.Inline
		if x.Compression != disk.CompressNone {
			var err error
			data, err = self.decode(x.Compression, x.Inline, x.RAMBytes)
			if err != nil {
				return fmt.Errorf("inline extent %v@%d: %w", pkg.ID, x.FileOffset, err)
			}
		}
		if rel < uint64(len(data)) {
			copy(dst, data[rel:])
		}
		return nil
	case disk.FileExtentPrealloc:
		return nil
	}
	if x.DiskBytenr == 0 {
		return nil
	}
	if x.Compression == disk.CompressNone {
		return self.readLogical(x.DiskBytenr+x.Offset+rel, dst)
	}
	if x.DiskNumBytes > maxExtentRead || x.RAMBytes > maxExtentRead {
		return fmt.Errorf("%w: compressed extent %v@%d of %d/%d bytes",
			ErrCorruptMetadata, pkg.ID, x.FileOffset, x.DiskNumBytes, x.RAMBytes)
	}
	raw := make([]byte, x.DiskNumBytes)
	if err := self.readLogical(x.DiskBytenr, raw); err != nil {
		return err
	}
	data, err := self.decode(x.Compression, raw, x.RAMBytes)
	if err != nil {
		return fmt.Errorf("extent %v@%d: %w", pkg.ID, x.FileOffset, err)
	}
	if start := x.Offset + rel; start < uint64(len(data)) {
		copy(dst, data[start:])
	}
	return nil
}

func (self *Volume) decode(compression uint8, data []byte, size uint64) ([]byte, error) {
	c, err := codec.Get(compression)
	if err != nil {
		self.notice("compression", codec.Name(compression))
		return nil, err
	}
	if size > maxExtentRead {
		return nil, fmt.Errorf("%w: decompressed size %d", ErrCorruptMetadata, size)
	}
	return c.DecodeBytes(data, int(size))
}

// readLogical reads len(dst) bytes at a logical address, one chunk
// lookup per call.
func (self *Volume) readLogical(logical uint64, dst []byte) error {
	if len(dst) > maxExtentRead {
		return fmt.Errorf("%w: read of %d bytes", ErrCorruptMetadata, len(dst))
	}
	phys, err := self.chunks.LogicalToPhysical(logical, uint64(len(dst)))
	if err != nil {
		return err
	}
	b, err := self.reader.Direct(phys, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}
