/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct  6 11:02:18 2026 mstenber
 * Last modified: Thu Oct  8 10:51:37 2026 mstenber
 * Edit time:     39 min
 *
 */

package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/blake2b"
)

// CsumSize is the room reserved for a checksum at the start of the
// superblock and of every tree block; the checksum covers everything
// after it.
const CsumSize = 0x20

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CsumLen returns the digest length of a checksum type.
func CsumLen(csumType uint16) (int, error) {
	switch csumType {
	case CsumTypeCRC32C:
		return 4, nil
	case CsumTypeXXHash:
		return 8, nil
	case CsumTypeSHA256, CsumTypeBlake2:
		return 32, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrCsumType, csumType)
}

// CsumTypeName is what btrfs-progs calls the algorithm.
func CsumTypeName(csumType uint16) string {
	switch csumType {
	case CsumTypeCRC32C:
		return "crc32c"
	case CsumTypeXXHash:
		return "xxhash64"
	case CsumTypeSHA256:
		return "sha256"
	case CsumTypeBlake2:
		return "blake2b"
	}
	return fmt.Sprintf("unknown.%d", csumType)
}

// Checksum computes the digest of data in its on-disk byte order.
func Checksum(csumType uint16, data []byte) ([]byte, error) {
	switch csumType {
	case CsumTypeCRC32C:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, crc32.Checksum(data, castagnoli))
		return b, nil
	case CsumTypeXXHash:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, xxhash.Sum64(data))
		return b, nil
	case CsumTypeSHA256:
		s := sha256.Sum256(data)
		return s[:], nil
	case CsumTypeBlake2:
		s := blake2b.Sum256(data)
		return s[:], nil
	}
	return nil, fmt.Errorf("%w: %d", ErrCsumType, csumType)
}

// VerifyBlock checks the checksum stored at the start of a superblock
// or tree block against the rest of it.
func VerifyBlock(csumType uint16, block []byte) error {
	if len(block) <= CsumSize {
		return fmt.Errorf("%w: block of %d bytes", ErrShortBuffer, len(block))
	}
	sum, err := Checksum(csumType, block[CsumSize:])
	if err != nil {
		return err
	}
	if !bytes.Equal(block[:len(sum)], sum) {
		return fmt.Errorf("%w: stored %x, computed %x", ErrBadChecksum, block[:len(sum)], sum)
	}
	return nil
}

// SetBlockChecksum stores the checksum of block[CsumSize:] in front of
// it. Only test images are ever written.
func SetBlockChecksum(csumType uint16, block []byte) error {
	sum, err := Checksum(csumType, block[CsumSize:])
	if err != nil {
		return err
	}
	for i := 0; i < CsumSize; i++ {
		block[i] = 0
	}
	copy(block, sum)
	return nil
}

// NameHash is the directory name hash stored in DIR_ITEM key
// offsets: crc32c seeded with ~1 and no final inversion.
func NameHash(name []byte) uint64 {
	return uint64(^crc32.Update(1, castagnoli, name))
}
