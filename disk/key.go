/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct  6 10:31:02 2026 mstenber
 * Last modified: Tue Oct  6 10:38:49 2026 mstenber
 * Edit time:     5 min
 *
 */

package disk

import "fmt"

const KeySize = 0x11

// Key orders every item in a tree: (objectid, type, offset). What
// offset means depends on the type (name hash for DIR_ITEM, file
// offset for EXTENT_DATA, parent for INODE_REF, ...).
type Key struct {
	ObjectID uint64
	Type     uint8
	Offset   uint64
}

func (self Key) Compare(other Key) int {
	switch {
	case self.ObjectID < other.ObjectID:
		return -1
	case self.ObjectID > other.ObjectID:
		return 1
	case self.Type < other.Type:
		return -1
	case self.Type > other.Type:
		return 1
	case self.Offset < other.Offset:
		return -1
	case self.Offset > other.Offset:
		return 1
	}
	return 0
}

func (self Key) String() string {
	return fmt.Sprintf("(%s %s %#x)", ObjectIDName(self.ObjectID), ItemTypeName(self.Type), self.Offset)
}
