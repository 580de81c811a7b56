/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct  6 11:40:55 2026 mstenber
 * Last modified: Thu Oct  8 11:20:14 2026 mstenber
 * Edit time:     52 min
 *
 */

package disk

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	HeaderSize     = 0x65
	ItemHeaderSize = 0x19
	KeyPtrSize     = 0x21
)

// Header starts every tree block.
type Header struct {
	Csum          [CsumSize]byte
	FSID          uuid.UUID
	Bytenr        uint64
	Flags         uint64
	ChunkTreeUUID uuid.UUID
	Generation    uint64
	Owner         uint64
	NrItems       uint32
	Level         uint8
}

func DecodeHeader(b []byte) (Header, error) {
	var h Header
	c := NewCursor(b)
	c.Copy(h.Csum[:])
	c.Copy(h.FSID[:])
	h.Bytenr = c.U64()
	h.Flags = c.U64()
	c.Copy(h.ChunkTreeUUID[:])
	h.Generation = c.U64()
	h.Owner = c.U64()
	h.NrItems = c.U32()
	h.Level = c.U8()
	if err := c.Err(); err != nil {
		return h, fmt.Errorf("node header: %w", err)
	}
	return h, nil
}

// Item is one leaf entry; Data aliases the node buffer.
type Item struct {
	Key  Key
	Data []byte
}

// KeyPtr is one interior node entry.
type KeyPtr struct {
	Key        Key
	BlockPtr   uint64
	Generation uint64
}

// Node is a decoded tree block: Items for leaves (level 0), Ptrs for
// everything else.
type Node struct {
	Header
	Items []Item
	Ptrs  []KeyPtr
}

func (self *Node) IsLeaf() bool {
	return self.Level == 0
}

// DecodeNode decodes a whole tree block. Item payload ranges are
// checked to lie within the block and after the item headers; nothing
// here trusts nritems or offsets read from disk.
func DecodeNode(b []byte) (*Node, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	n := &Node{Header: h}
	count := int(h.NrItems)
	c := NewCursor(b)
	c.Seek(HeaderSize)
	if h.Level == 0 {
		if count > (len(b)-HeaderSize)/ItemHeaderSize {
			return nil, fmt.Errorf("%w: leaf @%#x claims %d items", ErrCorrupt, h.Bytenr, count)
		}
		dataStart := HeaderSize + count*ItemHeaderSize
		n.Items = make([]Item, count)
		for i := 0; i < count; i++ {
			k := c.Key()
			off := int(c.U32())
			size := int(c.U32())
			start := HeaderSize + off
			end := start + size
			if off < 0 || size < 0 || start < dataStart || end > len(b) {
				return nil, fmt.Errorf("%w: leaf @%#x item %d %v data [%#x,%#x) outside [%#x,%#x)",
					ErrCorrupt, h.Bytenr, i, k, start, end, dataStart, len(b))
			}
			n.Items[i] = Item{Key: k, Data: b[start:end:end]}
		}
	} else {
		if h.Level >= MaxLevel {
			return nil, fmt.Errorf("%w: node @%#x level %d", ErrCorrupt, h.Bytenr, h.Level)
		}
		if count > (len(b)-HeaderSize)/KeyPtrSize {
			return nil, fmt.Errorf("%w: node @%#x claims %d pointers", ErrCorrupt, h.Bytenr, count)
		}
		n.Ptrs = make([]KeyPtr, count)
		for i := 0; i < count; i++ {
			n.Ptrs[i] = KeyPtr{Key: c.Key(), BlockPtr: c.U64(), Generation: c.U64()}
		}
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("node @%#x: %w", h.Bytenr, err)
	}
	return n, nil
}
