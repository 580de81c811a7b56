/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct  6 10:40:12 2026 mstenber
 * Last modified: Wed Oct  7 09:12:44 2026 mstenber
 * Edit time:     26 min
 *
 */

package disk

import (
	"encoding/binary"
	"fmt"
)

// Cursor reads little-endian fields from a byte slice. Every read is
// bounds checked; the first failure sticks in Err() and all later
// reads return zero values, so decoders check once at the end.
type Cursor struct {
	b   []byte
	off int
	err error
}

func NewCursor(b []byte) *Cursor {
	return &Cursor{b: b}
}

func (self *Cursor) take(n int) []byte {
	if self.err != nil {
		return nil
	}
	if n < 0 || n > len(self.b)-self.off {
		self.err = fmt.Errorf("%w: %d bytes at %#x, %d available",
			ErrShortBuffer, n, self.off, len(self.b)-self.off)
		return nil
	}
	r := self.b[self.off : self.off+n]
	self.off += n
	return r
}

func (self *Cursor) U8() uint8 {
	b := self.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (self *Cursor) U16() uint16 {
	b := self.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (self *Cursor) U32() uint32 {
	b := self.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (self *Cursor) U64() uint64 {
	b := self.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (self *Cursor) I64() int64 {
	return int64(self.U64())
}

// Bytes returns the next n bytes without copying.
func (self *Cursor) Bytes(n int) []byte {
	return self.take(n)
}

// Copy fills dst from the next len(dst) bytes.
func (self *Cursor) Copy(dst []byte) {
	copy(dst, self.take(len(dst)))
}

func (self *Cursor) Skip(n int) {
	self.take(n)
}

// Seek moves to an absolute offset within the slice.
func (self *Cursor) Seek(off int) {
	if self.err != nil {
		return
	}
	if off < 0 || off > len(self.b) {
		self.err = fmt.Errorf("%w: seek to %#x of %d bytes", ErrShortBuffer, off, len(self.b))
		return
	}
	self.off = off
}

func (self *Cursor) Key() Key {
	var k Key
	k.ObjectID = self.U64()
	k.Type = self.U8()
	k.Offset = self.U64()
	return k
}

func (self *Cursor) Offset() int {
	return self.off
}

func (self *Cursor) Remaining() int {
	if self.err != nil {
		return 0
	}
	return len(self.b) - self.off
}

func (self *Cursor) Err() error {
	return self.err
}
