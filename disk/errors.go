/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Tue Oct  6 10:24:50 2026 mstenber
 * Last modified: Tue Oct  6 10:29:13 2026 mstenber
 * Edit time:     2 min
 *
 */

package disk

import "errors"

var (
	ErrShortBuffer = errors.New("short buffer")
	ErrBadMagic    = errors.New("bad magic")
	ErrBadChecksum = errors.New("checksum mismatch")
	ErrCorrupt     = errors.New("corrupt structure")
	ErrCsumType    = errors.New("unsupported checksum type")
)
