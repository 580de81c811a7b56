/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Mon Oct 12 13:10:02 2026 mstenber
 * Last modified: Tue Oct 13 09:44:51 2026 mstenber
 * Edit time:     71 min
 *
 */

package device

import (
	"container/list"

	"github.com/fingon/go-btrfsro/mlog"
)

type cacheKey struct {
	addr   uint64
	length int
}

type cacheEntry struct {
	key  cacheKey
	freq uint64
	data []byte
}

// CacheEntry is an exported snapshot of one cache entry.
type CacheEntry struct {
	Addr   uint64
	Length int
	Freq   uint64
}

type CacheStats struct {
	Entries   int
	Bytes     uint64
	Limit     uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache keeps blocks keyed by exact (address, length) in a list
// ordered by descending read frequency. Fresh entries go in front of
// the other frequency 1 entries, hits move an entry forward past
// entries with strictly lower frequency, and eviction happens from
// the tail after insertion.
//
// Cache is not safe for concurrent use; Reader serializes access.
type Cache struct {
	limit uint64
	size  uint64
	l     *list.List
	index map[cacheKey]*list.Element

	hits, misses, evictions uint64
}

func NewCache(limit uint64) *Cache {
	return &Cache{limit: limit, l: list.New(), index: make(map[cacheKey]*list.Element)}
}

// Get returns cached data (which must not be modified) and promotes
// the entry.
func (self *Cache) Get(addr uint64, length int) ([]byte, bool) {
	e, ok := self.index[cacheKey{addr, length}]
	if !ok {
		self.misses++
		return nil, false
	}
	self.hits++
	ce := e.Value.(*cacheEntry)
	ce.freq++
	prev := e.Prev()
	for prev != nil && prev.Value.(*cacheEntry).freq < ce.freq {
		prev = prev.Prev()
	}
	if prev == nil {
		self.l.MoveToFront(e)
	} else if prev != e.Prev() {
		self.l.MoveAfter(e, prev)
	}
	return ce.data, true
}

// Add inserts data with frequency 1 and then evicts from the tail
// until the ceiling holds again.
func (self *Cache) Add(addr uint64, data []byte) {
	k := cacheKey{addr, len(data)}
	if _, ok := self.index[k]; ok {
		return
	}
	ce := &cacheEntry{key: k, freq: 1, data: data}
	mark := self.l.Back()
	for mark != nil && mark.Value.(*cacheEntry).freq <= 1 {
		mark = mark.Prev()
	}
	var e *list.Element
	if mark == nil {
		e = self.l.PushFront(ce)
	} else {
		e = self.l.InsertAfter(ce, mark)
	}
	self.index[k] = e
	self.size += uint64(len(data))
	for self.size > self.limit {
		self.evict(self.l.Back())
	}
}

func (self *Cache) evict(e *list.Element) {
	ce := self.l.Remove(e).(*cacheEntry)
	delete(self.index, ce.key)
	self.size -= uint64(len(ce.data))
	self.evictions++
	mlog.Printf2("device/cache", "evict %#x+%d freq %d", ce.key.addr, ce.key.length, ce.freq)
}

func (self *Cache) Size() uint64 {
	return self.size
}

// Entries lists the cache from head (most frequent) to tail.
func (self *Cache) Entries() []CacheEntry {
	r := make([]CacheEntry, 0, self.l.Len())
	for e := self.l.Front(); e != nil; e = e.Next() {
		ce := e.Value.(*cacheEntry)
		r = append(r, CacheEntry{Addr: ce.key.addr, Length: ce.key.length, Freq: ce.freq})
	}
	return r
}

func (self *Cache) Stats() CacheStats {
	return CacheStats{Entries: self.l.Len(), Bytes: self.size, Limit: self.limit,
		Hits: self.hits, Misses: self.misses, Evictions: self.evictions}
}
