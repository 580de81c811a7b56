/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 09:19:42 2017 mstenber
 * Last modified: Fri Oct 16 15:02:11 2026 mstenber
 * Edit time:     6 min
 *
 */

package fs

import (
	"syscall"

	"github.com/hanwen/go-fuse/fuse"
)

const blockSize = 512

const attrValidity = 5
const entryValidity = 5

// FUSE inode numbers: objects of the mounted subvolume use their
// object id as is, objects of other trees get the tree id in the top
// bits.
const treeShift = 40
const objectMask = 1<<treeShift - 1

var (
	errROFS   = fuse.Status(syscall.EROFS)
	errNoData = fuse.Status(syscall.ENODATA)
)
