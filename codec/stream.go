/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct 13 14:02:55 2026 mstenber
 * Last modified: Wed Oct 14 09:30:02 2026 mstenber
 * Edit time:     28 min
 *
 */

package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fingon/go-btrfsro/mlog"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// readUpTo reads until size bytes or the end of the stream. Extents
// are padded to a sector on disk, so whatever follows the stream is
// never looked at.
func readUpTo(r io.Reader, size int) ([]byte, error) {
	b := make([]byte, size)
	n, err := io.ReadFull(r, b)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return b[:n], err
}

type zlibCodec struct{}

func (self zlibCodec) Name() string {
	return "zlib"
}

func (self zlibCodec) DecodeBytes(data []byte, size int) ([]byte, error) {
	mlog.Printf2("codec/stream", "zlib.DecodeBytes %d -> %d", len(data), size)
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrCorrupt, err)
	}
	defer r.Close()
	b, err := readUpTo(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrCorrupt, err)
	}
	return b, nil
}

type zstdCodec struct{}

func (self zstdCodec) Name() string {
	return "zstd"
}

func (self zstdCodec) DecodeBytes(data []byte, size int) ([]byte, error) {
	mlog.Printf2("codec/stream", "zstd.DecodeBytes %d -> %d", len(data), size)
	// Single goroutine decoding stops at the end of the frame
	// instead of reading ahead into the sector padding.
	r, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	defer r.Close()
	b, err := readUpTo(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	return b, nil
}
