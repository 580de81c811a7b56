/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Wed Oct 14 13:51:09 2026 mstenber
 * Last modified: Thu Oct 15 09:31:55 2026 mstenber
 * Edit time:     33 min
 *
 */

package btrfs

import (
	"fmt"
	"sort"

	"github.com/fingon/go-btrfsro/disk"
)

// ChunkMap translates logical addresses to physical ones. The
// bootstrap list from the superblock is consulted first, then the
// chunks loaded from the chunk tree. Only the first stripe is ever
// used.
//
// ChunkMap is filled in before the volume is shared, and only read
// after that.
type ChunkMap struct {
	bootstrap []disk.ChunkEntry
	chunks    []disk.ChunkEntry
}

func NewChunkMap(bootstrap []disk.ChunkEntry) *ChunkMap {
	return &ChunkMap{bootstrap: bootstrap}
}

func (self *ChunkMap) add(e disk.ChunkEntry) {
	self.chunks = append(self.chunks, e)
}

// sort orders the loaded chunks for lookup and rejects overlaps.
func (self *ChunkMap) sort() error {
	sort.Slice(self.chunks, func(i, j int) bool {
		return self.chunks[i].Key.Offset < self.chunks[j].Key.Offset
	})
	for i := 1; i < len(self.chunks); i++ {
		prev := self.chunks[i-1]
		if prev.Key.Offset+prev.Chunk.Size > self.chunks[i].Key.Offset {
			return fmt.Errorf("%w: chunks @%#x and @%#x overlap", ErrCorruptMetadata, prev.Key.Offset, self.chunks[i].Key.Offset)
		}
	}
	return nil
}

func covers(e *disk.ChunkEntry, logical, length uint64) bool {
	base := e.Key.Offset
	return logical >= base && logical+length <= base+e.Chunk.Size && logical+length >= logical
}

func physical(e *disk.ChunkEntry, logical uint64) uint64 {
	return e.Chunk.Stripes[0].Offset + (logical - e.Key.Offset)
}

// LogicalToPhysical maps [logical, logical+length) to a physical
// address; the whole range must fit in one chunk.
func (self *ChunkMap) LogicalToPhysical(logical, length uint64) (uint64, error) {
	for i := range self.bootstrap {
		if covers(&self.bootstrap[i], logical, length) {
			return physical(&self.bootstrap[i], logical), nil
		}
	}
	i := sort.Search(len(self.chunks), func(i int) bool {
		e := &self.chunks[i]
		return e.Key.Offset+e.Chunk.Size > logical
	})
	if i < len(self.chunks) && covers(&self.chunks[i], logical, length) {
		return physical(&self.chunks[i], logical), nil
	}
	return 0, fmt.Errorf("%w: %#x+%d", ErrUnmapped, logical, length)
}

// Chunks returns the chunk tree entries (or the bootstrap list, if
// the chunk tree has not been loaded).
func (self *ChunkMap) Chunks() []disk.ChunkEntry {
	if len(self.chunks) == 0 {
		return self.bootstrap
	}
	return self.chunks
}
