/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 17:15:30 2017 mstenber
 * Last modified: Wed Oct 14 12:50:33 2026 mstenber
 * Edit time:     88 min
 *
 */

package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/fstest"
	"github.com/stvp/assert"
)

const compressible = "123456789123456789123456789123456789123456789123456789123456789123456789123456789123456789123456789"

func testPayload(n int) []byte {
	return bytes.Repeat([]byte(compressible), n/len(compressible)+1)[:n]
}

func ProdCodec(t *testing.T, c Codec, enc func([]byte) []byte) {
	for _, n := range []int{1, 3, 4, 100, 238, 239, 4096, 10000, 128 << 10} {
		p := testPayload(n)
		data := enc(p)
		// sector padding after the stream is ignored
		data = append(data, make([]byte, 4096-len(data)%4096)...)
		dec, err := c.DecodeBytes(data, len(p))
		assert.Nil(t, err)
		assert.Equal(t, dec, p)

		// asking for less truncates
		dec, err = c.DecodeBytes(data, n/2)
		assert.Nil(t, err)
		assert.Equal(t, dec, p[:n/2])
	}
}

func TestZlib(t *testing.T) {
	t.Parallel()
	c, err := Get(disk.CompressZlib)
	assert.Nil(t, err)
	assert.Equal(t, c.Name(), "zlib")
	ProdCodec(t, c, fstest.Zlib)
	_, err = c.DecodeBytes([]byte("garbage"), 10)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestZstd(t *testing.T) {
	t.Parallel()
	c, err := Get(disk.CompressZstd)
	assert.Nil(t, err)
	ProdCodec(t, c, fstest.Zstd)
	_, err = c.DecodeBytes([]byte("garbage garbage"), 10)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestLZO(t *testing.T) {
	t.Parallel()
	c, err := Get(disk.CompressLZO)
	assert.Nil(t, err)
	ProdCodec(t, c, func(b []byte) []byte {
		return fstest.LZO(b, 4096)
	})

	_, err = c.DecodeBytes([]byte{1, 2}, 10)
	assert.True(t, errors.Is(err, ErrCorrupt))
	// total length beyond data
	_, err = c.DecodeBytes([]byte{100, 0, 0, 0, 0, 0}, 10)
	assert.True(t, errors.Is(err, ErrCorrupt))
	// segment longer than total
	_, err = c.DecodeBytes([]byte{10, 0, 0, 0, 50, 0, 0, 0, 0, 0}, 10)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestLZOSegmentPadding(t *testing.T) {
	t.Parallel()
	// With 512 byte sectors every segment takes 522 bytes; the 154th
	// header would start 2 bytes before a sector end and moves to
	// the next sector instead.
	c := lzoCodec{sectorSize: 512}
	p := testPayload(160 * 512)
	data := fstest.LZO(p, 512)
	assert.Equal(t, len(data), 4+160*522+2)
	dec, err := c.DecodeBytes(data, len(p))
	assert.Nil(t, err)
	assert.Equal(t, dec, p)
}

func TestLZO1X(t *testing.T) {
	t.Parallel()
	// "abc", then an 8 byte match 3 back, then the end marker
	b, err := lzo1xDecompress([]byte{20, 'a', 'b', 'c', 0xe8, 0x00, 0x11, 0, 0}, 100)
	assert.Nil(t, err)
	assert.Equal(t, string(b), "abcabcabcab")

	// output limit
	_, err = lzo1xDecompress([]byte{20, 'a', 'b', 'c', 0xe8, 0x00, 0x11, 0, 0}, 5)
	assert.True(t, errors.Is(err, ErrCorrupt))

	// match reaching before the start
	_, err = lzo1xDecompress([]byte{20, 'a', 'b', 'c', 0xfc, 0x00, 0x11, 0, 0}, 100)
	assert.True(t, errors.Is(err, ErrCorrupt))

	// missing end marker
	_, err = lzo1xDecompress([]byte{20, 'a', 'b', 'c'}, 100)
	assert.True(t, errors.Is(err, ErrCorrupt))

	_, err = lzo1xDecompress(nil, 100)
	assert.True(t, errors.Is(err, ErrCorrupt))

	// long literal run with a length extension
	p := testPayload(1000)
	b, err = lzo1xDecompress(fstest.LZOLiterals(p), 2000)
	assert.Nil(t, err)
	assert.Equal(t, b, p)

	// M3 match: 40 bytes 3 back
	b, err = lzo1xDecompress([]byte{20, 'x', 'y', 'z', 32, 7, 8, 0, 0x11, 0, 0}, 100)
	assert.Nil(t, err)
	assert.Equal(t, string(b), string(bytes.Repeat([]byte("xyz"), 15)[:43]))
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	assert.Equal(t, List(), []uint8{disk.CompressZlib, disk.CompressLZO, disk.CompressZstd})
	_, err := Get(disk.CompressNone)
	assert.True(t, errors.Is(err, ErrUnsupported))
	_, err = Get(9)
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.Equal(t, Name(disk.CompressNone), "none")
	assert.Equal(t, Name(disk.CompressLZO), "lzo")
	assert.Equal(t, Name(9), "unknown.9")
}
