/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Wed Oct 14 14:30:12 2026 mstenber
 * Last modified: Thu Oct 15 11:02:48 2026 mstenber
 * Edit time:     58 min
 *
 */

package btrfs

import (
	"fmt"

	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/mlog"
)

// Result tells the walker whether to go on.
type Result int

const (
	Continue Result = iota
	Stop
)

// Visitor sees the items of a walk in key order.
type Visitor interface {
	Item(item *disk.Item) (Result, error)
}

// NodeVisitor is implemented by visitors that want to see every node
// before its items or children.
type NodeVisitor interface {
	Node(addr uint64, n *disk.Node) error
}

type VisitorFunc func(item *disk.Item) (Result, error)

func (self VisitorFunc) Item(item *disk.Item) (Result, error) {
	return self(item)
}

var (
	minKey = disk.Key{}
	maxKey = disk.Key{ObjectID: ^uint64(0), Type: 0xff, Offset: ^uint64(0)}
)

// objectKeys returns the key range of everything stored about objectid
// (with item type typ, or all types if typ is 0).
func objectKeys(objectid uint64, typ uint8) (lo, hi disk.Key) {
	if typ == 0 {
		return disk.Key{ObjectID: objectid}, disk.Key{ObjectID: objectid, Type: 0xff, Offset: ^uint64(0)}
	}
	return disk.Key{ObjectID: objectid, Type: typ}, disk.Key{ObjectID: objectid, Type: typ, Offset: ^uint64(0)}
}

func isFSTree(id uint64) bool {
	return id == disk.FSTreeObjectID || (id >= disk.FirstFreeObjectID && id <= disk.LastFreeObjectID)
}

// ownerMatches accepts any filesystem tree for filesystem trees, as
// snapshots share nodes owned by the tree they were taken of.
func ownerMatches(expected, owner uint64) bool {
	return expected == owner || (isFSTree(expected) && isFSTree(owner))
}

// readNode fetches, verifies and decodes the tree block at logical
// address addr.
func (self *Volume) readNode(addr uint64, owner uint64) (*disk.Node, error) {
	size := uint64(self.sb.NodeSize)
	phys, err := self.chunks.LogicalToPhysical(addr, size)
	if err != nil {
		return nil, err
	}
	b, err := self.reader.Cached(phys, int(size))
	if err != nil {
		return nil, err
	}
	if err := disk.VerifyBlock(self.sb.CsumType, b); err != nil {
		return nil, fmt.Errorf("%w: node @%#x: %w", ErrCorruptMetadata, addr, err)
	}
	n, err := disk.DecodeNode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptMetadata, err)
	}
	if n.Bytenr != addr {
		return nil, fmt.Errorf("%w: node @%#x claims to be @%#x", ErrCorruptMetadata, addr, n.Bytenr)
	}
	if !ownerMatches(owner, n.Owner) {
		return nil, fmt.Errorf("%w: %w: node @%#x owner %s, expected %s",
			ErrCorruptMetadata, ErrWrongOwner, addr, disk.ObjectIDName(n.Owner), disk.ObjectIDName(owner))
	}
	return n, nil
}

type walker struct {
	vol     *Volume
	owner   uint64
	lo, hi  disk.Key
	visitor Visitor
	visited map[uint64]bool
}

func (self *walker) node(addr uint64, level int) (Result, error) {
	if self.visited[addr] {
		return Stop, fmt.Errorf("%w: node @%#x reached twice", ErrCorruptMetadata, addr)
	}
	self.visited[addr] = true
	n, err := self.vol.readNode(addr, self.owner)
	if err != nil {
		return Stop, err
	}
	mlog.Printf2("btrfs/walk", "node @%#x owner %d level %d items %d", addr, n.Owner, n.Level, n.NrItems)
	if level >= 0 && int(n.Level) != level {
		return Stop, fmt.Errorf("%w: node @%#x level %d, expected %d", ErrCorruptMetadata, addr, n.Level, level)
	}
	if nv, ok := self.visitor.(NodeVisitor); ok {
		if err := nv.Node(addr, n); err != nil {
			return Stop, err
		}
	}
	if n.IsLeaf() {
		for i := range n.Items {
			it := &n.Items[i]
			if it.Key.Compare(self.lo) < 0 {
				continue
			}
			if it.Key.Compare(self.hi) > 0 {
				return Stop, nil
			}
			r, err := self.visitor.Item(it)
			if err != nil || r == Stop {
				return Stop, err
			}
		}
		return Continue, nil
	}
	for i, p := range n.Ptrs {
		if p.Key.Compare(self.hi) > 0 {
			return Stop, nil
		}
		if i+1 < len(n.Ptrs) && n.Ptrs[i+1].Key.Compare(self.lo) <= 0 {
			continue
		}
		r, err := self.node(p.BlockPtr, int(n.Level)-1)
		if err != nil || r == Stop {
			return Stop, err
		}
	}
	return Continue, nil
}

// walk visits every item of the tree rooted at addr.
func (self *Volume) walk(addr uint64, owner uint64, v Visitor) (Result, error) {
	return self.walkRange(addr, owner, minKey, maxKey, v)
}

// walkRange visits the items with lo <= key <= hi, skipping subtrees
// that cannot contain any.
func (self *Volume) walkRange(addr uint64, owner uint64, lo, hi disk.Key, v Visitor) (Result, error) {
	w := &walker{vol: self, owner: owner, lo: lo, hi: hi, visitor: v, visited: make(map[uint64]bool)}
	return w.node(addr, -1)
}

// walkTree walks the range of tree id (root tree, chunk tree or any
// filesystem tree).
func (self *Volume) walkTree(id uint64, lo, hi disk.Key, v Visitor) (Result, error) {
	var addr uint64
	switch id {
	case disk.RootTreeObjectID:
		addr = self.sb.Root
	case disk.ChunkTreeObjectID:
		addr = self.sb.ChunkRoot
	default:
		root, ok := self.roots[id]
		if !ok {
			return Stop, fmt.Errorf("tree %d: %w", id, ErrNotFound)
		}
		addr = root.Item.Bytenr
	}
	return self.walkRange(addr, id, lo, hi, v)
}
