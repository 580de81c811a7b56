/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Wed Oct 14 13:22:41 2026 mstenber
 * Last modified: Thu Oct 15 09:10:37 2026 mstenber
 * Edit time:     41 min
 *
 */

package btrfs

import (
	"errors"
	"fmt"

	"github.com/fingon/go-btrfsro/device"
	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/mlog"
)

type Validity int

const (
	OK Validity = iota
	BadMagic
	BadChecksum
)

func (self Validity) String() string {
	switch self {
	case OK:
		return "ok"
	case BadMagic:
		return "bad magic"
	case BadChecksum:
		return "bad checksum"
	}
	return fmt.Sprintf("Validity(%d)", int(self))
}

func (self Validity) Err() error {
	switch self {
	case OK:
		return nil
	case BadMagic:
		return disk.ErrBadMagic
	}
	return disk.ErrBadChecksum
}

// Validate checks magic and checksum of a decoded superblock.
func Validate(sb *disk.Superblock) Validity {
	if !sb.CheckMagic() {
		return BadMagic
	}
	if disk.VerifyBlock(sb.CsumType, sb.Raw) != nil {
		return BadChecksum
	}
	return OK
}

func readSuperblock(r *device.Reader, i int) (*disk.Superblock, error) {
	ofs := disk.SuperblockOffsets[i]
	b, err := r.Direct(ofs, disk.SuperblockSize)
	if err != nil {
		return nil, err
	}
	sb, err := disk.DecodeSuperblock(b)
	if err != nil {
		return nil, err
	}
	if err := Validate(sb).Err(); err != nil {
		return nil, fmt.Errorf("superblock %d @%#x: %w", i+1, ofs, err)
	}
	if sb.Bytenr != ofs {
		return nil, fmt.Errorf("superblock %d @%#x: %w: bytenr %#x", i+1, ofs, disk.ErrCorrupt, sb.Bytenr)
	}
	return sb, nil
}

// LoadPrimary reads and validates the primary superblock.
func LoadPrimary(r *device.Reader) (*disk.Superblock, error) {
	return readSuperblock(r, 0)
}

// findNewerBackup returns the index (1 = primary) of the valid copy
// with the highest generation. Copies that cannot be read or do not
// validate are skipped.
func findNewerBackup(r *device.Reader, primary *disk.Superblock) (*disk.Superblock, int) {
	best, bestIndex := primary, 1
	for i := 1; i < len(disk.SuperblockOffsets); i++ {
		sb, err := readSuperblock(r, i)
		if err != nil {
			var ioe *device.IOError
			if !errors.As(err, &ioe) {
				mlog.Printf2("btrfs/superblock", "skipping copy %d: %v", i+1, err)
			}
			continue
		}
		mlog.Printf2("btrfs/superblock", "copy %d generation %d", i+1, sb.Generation)
		if sb.Generation > best.Generation {
			best, bestIndex = sb, i+1
		}
	}
	return best, bestIndex
}

// LoadSuperblock returns the newest valid superblock copy and its
// index (1 = primary). A bad primary is fatal.
func LoadSuperblock(r *device.Reader) (*disk.Superblock, int, error) {
	primary, err := LoadPrimary(r)
	if err != nil {
		return nil, 0, err
	}
	sb, i := findNewerBackup(r, primary)
	return sb, i, nil
}
