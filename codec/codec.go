/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 16:42:12 2017 mstenber
 * Last modified: Wed Oct 14 09:12:37 2026 mstenber
 * Edit time:     102 min
 *
 */

// codec library is responsible for transforming compressed extent
// data back to what the file contains. Each btrfs compression type
// has one Codec; Get finds it by the type byte stored in the extent.
package codec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fingon/go-btrfsro/disk"
)

var (
	ErrUnsupported = errors.New("unsupported compression")
	ErrCorrupt     = errors.New("corrupt compressed data")
)

// Codec
//
// Single decompression algorithm.
type Codec interface {
	// DecodeBytes returns at most size bytes of decompressed
	// data. Less is returned if the stream ends early; callers treat
	// the rest as zeros.
	DecodeBytes(data []byte, size int) ([]byte, error)

	Name() string
}

var codecs = map[uint8]Codec{
	disk.CompressZlib: zlibCodec{},
	disk.CompressLZO:  lzoCodec{sectorSize: lzoSectorSize},
	disk.CompressZstd: zstdCodec{},
}

// Get returns the codec for an extent compression type.
func Get(compression uint8) (Codec, error) {
	c, ok := codecs[compression]
	if !ok {
		return nil, fmt.Errorf("%w: type %d", ErrUnsupported, compression)
	}
	return c, nil
}

// List returns the supported compression types in ascending order.
func List() []uint8 {
	r := make([]uint8, 0, len(codecs))
	for k := range codecs {
		r = append(r, k)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}

// Name of a compression type, also for unsupported ones.
func Name(compression uint8) string {
	if c, ok := codecs[compression]; ok {
		return c.Name()
	}
	if compression == disk.CompressNone {
		return "none"
	}
	return fmt.Sprintf("unknown.%d", compression)
}
