/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Mon Oct 12 12:51:37 2026 mstenber
 * Last modified: Tue Oct 13 10:20:14 2026 mstenber
 * Edit time:     64 min
 *
 */

// device provides synchronized positioned reads of a btrfs device,
// with a frequency ordered block cache for metadata.
package device

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fingon/go-btrfsro/mlog"
	"github.com/fingon/go-btrfsro/util"
)

var (
	ErrShortRead   = errors.New("short read")
	ErrLockTimeout = errors.New("device lock wait timed out")
	ErrClosed      = errors.New("device closed")
)

// IOError wraps anything that went wrong touching the device. The
// underlying platform error (e.g. syscall.Errno) is reachable with
// errors.As.
type IOError struct {
	Op     string
	Offset uint64
	Length int
	Err    error
}

func (self *IOError) Error() string {
	return fmt.Sprintf("device %s @%#x+%d: %v", self.Op, self.Offset, self.Length, self.Err)
}

func (self *IOError) Unwrap() error {
	return self.Err
}

const (
	DefaultCacheSize   = 16 << 20
	DefaultLockTimeout = 10 * time.Second
)

type ReaderOptions struct {
	// CacheSize is the ceiling of cached bytes; 0 means default.
	CacheSize uint64

	// LockTimeout bounds the wait for the device; 0 means default
	// and negative waits forever.
	LockTimeout time.Duration
}

// Reader serializes all access to one device handle; the handle has a
// single file position so every seek+read pair happens under one
// lock. The metadata cache lives under the same lock.
type Reader struct {
	dev     io.ReadSeeker
	lock    util.TimedMutex
	timeout time.Duration
	cache   *Cache
	closed  bool
}

func NewReader(dev io.ReadSeeker, opts ReaderOptions) *Reader {
	if opts.CacheSize == 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &Reader{dev: dev, timeout: opts.LockTimeout, cache: NewCache(opts.CacheSize)}
}

func (self *Reader) locked(op string, phys uint64, length int) (func(), error) {
	unlock, ok := self.lock.LockedFor(self.timeout)
	if !ok {
		return nil, &IOError{Op: op, Offset: phys, Length: length, Err: ErrLockTimeout}
	}
	if self.closed {
		unlock()
		return nil, &IOError{Op: op, Offset: phys, Length: length, Err: ErrClosed}
	}
	return unlock, nil
}

// read must be called with the lock held.
func (self *Reader) read(phys uint64, length int) ([]byte, error) {
	mlog.Printf2("device/reader", "read %#x+%d", phys, length)
	if _, err := self.dev.Seek(int64(phys), io.SeekStart); err != nil {
		return nil, &IOError{Op: "seek", Offset: phys, Length: length, Err: err}
	}
	b := make([]byte, length)
	n, err := io.ReadFull(self.dev, b)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = fmt.Errorf("%w: got %d bytes", ErrShortRead, n)
	}
	if err != nil {
		return nil, &IOError{Op: "read", Offset: phys, Length: length, Err: err}
	}
	return b, nil
}

// Direct reads straight from the device.
func (self *Reader) Direct(phys uint64, length int) ([]byte, error) {
	unlock, err := self.locked("read", phys, length)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return self.read(phys, length)
}

// Cached reads through the metadata cache. The returned slice is
// shared with the cache and must not be modified.
func (self *Reader) Cached(phys uint64, length int) ([]byte, error) {
	unlock, err := self.locked("read", phys, length)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if b, ok := self.cache.Get(phys, length); ok {
		return b, nil
	}
	b, err := self.read(phys, length)
	if err != nil {
		return nil, err
	}
	self.cache.Add(phys, b)
	return b, nil
}

// Size reports the device size (as seen by seeking to the end).
func (self *Reader) Size() (uint64, error) {
	unlock, err := self.locked("size", 0, 0)
	if err != nil {
		return 0, err
	}
	defer unlock()
	n, err := self.dev.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, &IOError{Op: "seek", Err: err}
	}
	return uint64(n), nil
}

func (self *Reader) CacheStats() CacheStats {
	unlock, _ := self.lock.LockedFor(-1)
	defer unlock()
	return self.cache.Stats()
}

func (self *Reader) CacheEntries() []CacheEntry {
	unlock, _ := self.lock.LockedFor(-1)
	defer unlock()
	return self.cache.Entries()
}

// Close drops the cache and closes the device if it is an io.Closer.
func (self *Reader) Close() error {
	unlock, ok := self.lock.LockedFor(self.timeout)
	if !ok {
		return &IOError{Op: "close", Err: ErrLockTimeout}
	}
	defer unlock()
	if self.closed {
		return nil
	}
	self.closed = true
	self.cache = NewCache(self.cache.limit)
	if c, ok := self.dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
