/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct 13 14:40:07 2026 mstenber
 * Last modified: Sat Oct 17 10:12:40 2026 mstenber
 * Edit time:     141 min
 *
 */

package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fingon/go-btrfsro/mlog"
	lzo "github.com/rasky/go-lzo"
)

const (
	lzoSectorSize = 4096
	lzoLen        = 4

	// Segments decompress to at most one page; allow for 64k pages.
	lzoMaxSegment = 65536
)

// lzoCodec decodes the btrfs LZO framing: a little-endian u32 total
// length (itself included), then segments of u32 length + LZO1X
// block. A segment header never straddles a sector; if fewer than 4
// bytes remain in one, the rest is padding.
type lzoCodec struct {
	sectorSize int
}

func (self lzoCodec) Name() string {
	return "lzo"
}

func (self lzoCodec) DecodeBytes(data []byte, size int) ([]byte, error) {
	mlog.Printf2("codec/lzo", "lzo.DecodeBytes %d -> %d", len(data), size)
	if len(data) < lzoLen {
		return nil, fmt.Errorf("%w: lzo: %d bytes", ErrCorrupt, len(data))
	}
	total := int(binary.LittleEndian.Uint32(data))
	if total < lzoLen || total > len(data) {
		return nil, fmt.Errorf("%w: lzo: total length %d of %d", ErrCorrupt, total, len(data))
	}
	out := make([]byte, 0, size)
	pos := lzoLen
	for pos < total && len(out) < size {
		if left := self.sectorSize - pos%self.sectorSize; left < lzoLen {
			pos += left
			if pos >= total {
				break
			}
		}
		if pos+lzoLen > total {
			return nil, fmt.Errorf("%w: lzo: segment header at %d", ErrCorrupt, pos)
		}
		seglen := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += lzoLen
		if seglen > total-pos {
			return nil, fmt.Errorf("%w: lzo: segment of %d at %d", ErrCorrupt, seglen, pos)
		}
		seg, err := lzo1xDecompress(data[pos:pos+seglen], lzoMaxSegment)
		if err != nil {
			return nil, fmt.Errorf("lzo segment at %d: %w", pos, err)
		}
		out = append(out, seg...)
		pos += seglen
	}
	if len(out) > size {
		out = out[:size]
	}
	return out, nil
}

// lzo1xDecompress decodes one LZO1X block, refusing to produce more
// than limit bytes.
func lzo1xDecompress(src []byte, limit int) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: lzo1x: empty block", ErrCorrupt)
	}
	hint := lzoSectorSize
	if hint > limit {
		hint = limit
	}
	b, err := lzo.Decompress1X(bytes.NewReader(src), len(src), hint)
	if err != nil {
		return nil, fmt.Errorf("%w: lzo1x: %v", ErrCorrupt, err)
	}
	if len(b) > limit {
		return nil, fmt.Errorf("%w: lzo1x: %d bytes, limit %d", ErrCorrupt, len(b), limit)
	}
	return b, nil
}
