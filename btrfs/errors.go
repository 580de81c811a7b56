/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Wed Oct 14 13:01:20 2026 mstenber
 * Last modified: Wed Oct 14 13:20:02 2026 mstenber
 * Edit time:     6 min
 *
 */

package btrfs

import "errors"

var (
	// ErrNotFound is the normal lookup failure (path component,
	// subvolume, object id).
	ErrNotFound = errors.New("not found")

	// ErrUnmapped means no chunk covers a logical address.
	ErrUnmapped = errors.New("logical address not mapped")

	// ErrCorruptMetadata wraps checksum, decode and structure
	// failures of tree nodes.
	ErrCorruptMetadata = errors.New("corrupt metadata")

	// ErrWrongOwner is a node that belongs to another tree.
	ErrWrongOwner = errors.New("node owned by another tree")

	ErrNotDir     = errors.New("not a directory")
	ErrNotSymlink = errors.New("not a symlink")
	ErrBadSubvol  = errors.New("bad subvolume selection")
)
