/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Wed Oct 14 10:20:48 2026 mstenber
 * Last modified: Wed Oct 14 12:31:10 2026 mstenber
 * Edit time:     25 min
 *
 */

package fstest

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Zlib compresses data the way btrfs stores a zlib extent.
func Zlib(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Zstd compresses data into a single zstd frame.
func Zstd(data []byte) []byte {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

// LZOLiterals encodes data as one LZO1X block made of a single
// literal run. It is valid input for any LZO1X decompressor, just
// without any compression.
func LZOLiterals(data []byte) []byte {
	var b []byte
	n := len(data)
	switch {
	case n == 0:
	case n <= 238:
		b = append(b, byte(17+n))
	default:
		rest := n - 18
		zeros := rest / 255
		last := rest % 255
		if last == 0 {
			zeros--
			last = 255
		}
		b = append(b, 0)
		b = append(b, make([]byte, zeros)...)
		b = append(b, byte(last))
	}
	b = append(b, data...)
	return append(b, 0x11, 0, 0)
}

// LZO frames data in btrfs LZO format: sectorSize chunks, each an
// LZOLiterals segment, segment headers kept within a sector.
func LZO(data []byte, sectorSize int) []byte {
	b := make([]byte, 4)
	for len(data) > 0 {
		n := sectorSize
		if n > len(data) {
			n = len(data)
		}
		seg := LZOLiterals(data[:n])
		data = data[n:]
		if left := sectorSize - len(b)%sectorSize; left < 4 {
			b = append(b, make([]byte, left)...)
		}
		b = binary.LittleEndian.AppendUint32(b, uint32(len(seg)))
		b = append(b, seg...)
	}
	binary.LittleEndian.PutUint32(b, uint32(len(b)))
	return b
}
