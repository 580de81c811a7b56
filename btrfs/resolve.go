/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Thu Oct 15 13:15:40 2026 mstenber
 * Last modified: Fri Oct 16 09:58:12 2026 mstenber
 * Edit time:     24 min
 *
 */

package btrfs

import (
	"fmt"
	"strings"

	"github.com/fingon/go-btrfsro/mlog"
)

// Resolved is the result of a path lookup.
type Resolved struct {
	ID     FileID
	Parent FileID
}

// SplitPath splits on both '/' and '\', dropping empty components.
func SplitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
}

func (self *Volume) resolve(path string) (Resolved, error) {
	cur := Resolved{ID: self.Root()}
	var stack []FileID
	for _, c := range SplitPath(path) {
		switch c {
		case ".":
			continue
		case "..":
			// never above the root of the selected subvolume
			if len(stack) > 0 {
				cur.ID = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cur.Parent = FileID{}
				if len(stack) > 0 {
					cur.Parent = stack[len(stack)-1]
				}
			}
			continue
		}
		id, _, err := self.nameToID(cur.ID, c)
		if err != nil {
			mlog.Printf2("btrfs/resolve", "resolve %q failed at %q: %v", path, c, err)
			return Resolved{}, fmt.Errorf("%q: %w", path, err)
		}
		stack = append(stack, cur.ID)
		cur = Resolved{ID: id, Parent: cur.ID}
	}
	return cur, nil
}

// Resolve walks path from the root of the selected subvolume, moving
// to another subvolume's tree whenever an entry points to one.
func (self *Volume) Resolve(path string) (Resolved, error) {
	defer self.lock.Locked()()
	return self.resolve(path)
}

// ResolvePackage resolves path and returns its FilePkg.
func (self *Volume) ResolvePackage(path string) (*FilePkg, error) {
	defer self.lock.Locked()()
	r, err := self.resolve(path)
	if err != nil {
		return nil, err
	}
	return self.filePackage(r.ID)
}
