/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Mon Oct 12 12:40:19 2026 mstenber
 * Last modified: Mon Oct 12 13:02:33 2026 mstenber
 * Edit time:     9 min
 *
 */

package device

import (
	"io"
	"os"
)

// File is a read-only device or image file.
type File struct {
	*os.File
	Path string
	size uint64
}

var _ io.ReadSeeker = &File{}

// Open opens path read-only. Size is found by seeking to the end,
// which unlike Stat also works for block devices.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	n, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, &IOError{Op: "seek", Err: err}
	}
	return &File{File: f, Path: path, size: uint64(n)}, nil
}

func (self *File) Size() uint64 {
	return self.size
}
