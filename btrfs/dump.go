/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Thu Oct 15 15:20:10 2026 mstenber
 * Last modified: Fri Oct 16 12:33:48 2026 mstenber
 * Edit time:     49 min
 *
 */

package btrfs

import (
	"fmt"
	"io"
	"strings"

	"github.com/fingon/go-btrfsro/codec"
	"github.com/fingon/go-btrfsro/disk"
	ucodec "github.com/ugorji/go/codec"
)

const (
	DumpText = "text"
	DumpJSON = "json"
	DumpCBOR = "cbor"
)

type DumpNode struct {
	Tree       string `codec:"tree"`
	Addr       uint64 `codec:"addr"`
	Owner      uint64 `codec:"owner"`
	Generation uint64 `codec:"generation"`
	Level      uint8  `codec:"level"`
	NrItems    uint32 `codec:"nritems"`
}

type DumpItem struct {
	Index  int    `codec:"index"`
	Key    string `codec:"key"`
	Size   int    `codec:"size"`
	Detail string `codec:"detail,omitempty"`
}

type DumpPtr struct {
	Index      int    `codec:"index"`
	Key        string `codec:"key"`
	BlockPtr   uint64 `codec:"blockptr"`
	Generation uint64 `codec:"generation"`
}

// DumpRecord is one unit of dump output; exactly one field is set.
type DumpRecord struct {
	Node      *DumpNode  `codec:"node,omitempty"`
	Item      *DumpItem  `codec:"item,omitempty"`
	Ptr       *DumpPtr   `codec:"ptr,omitempty"`
	Subvolume *Subvolume `codec:"subvolume,omitempty"`
}

type dumpSink interface {
	emit(r *DumpRecord) error
}

type textSink struct {
	w io.Writer
}

func (self *textSink) emit(r *DumpRecord) (err error) {
	switch {
	case r.Node != nil:
		n := r.Node
		_, err = fmt.Fprintf(self.w, "\n[Node] tree = %s addr = %#x owner = %s level = %d nritems = %d generation = %d\n",
			n.Tree, n.Addr, disk.ObjectIDName(n.Owner), n.Level, n.NrItems, n.Generation)
	case r.Item != nil:
		it := r.Item
		_, err = fmt.Fprintf(self.w, "  [%02x] %s size %d %s\n", it.Index, it.Key, it.Size, it.Detail)
	case r.Ptr != nil:
		p := r.Ptr
		_, err = fmt.Fprintf(self.w, "  [%02x] %s KeyPtr: block %#x generation %d\n", p.Index, p.Key, p.BlockPtr, p.Generation)
	case r.Subvolume != nil:
		s := r.Subvolume
		_, err = fmt.Fprintf(self.w, "[Subvolume] id = %d parent = %d dir = %d name = %q generation = %d uuid = %s\n",
			s.ID, s.Parent, s.DirID, s.Name, s.Generation, s.UUID)
	}
	return
}

type encoderSink struct {
	enc *ucodec.Encoder
}

func (self *encoderSink) emit(r *DumpRecord) error {
	return self.enc.Encode(r)
}

func newDumpSink(w io.Writer, format string) (dumpSink, error) {
	switch format {
	case DumpText, "":
		return &textSink{w: w}, nil
	case DumpJSON:
		h := &ucodec.JsonHandle{}
		h.TermWhitespace = true
		return &encoderSink{enc: ucodec.NewEncoder(w, h)}, nil
	case DumpCBOR:
		return &encoderSink{enc: ucodec.NewEncoder(w, &ucodec.CborHandle{})}, nil
	}
	return nil, fmt.Errorf("unknown dump format %q", format)
}

// dumper never short-circuits: every node and item gets a record.
type dumper struct {
	tree  string
	sink  dumpSink
	index int
}

func (self *dumper) Node(addr uint64, n *disk.Node) error {
	self.index = 0
	err := self.sink.emit(&DumpRecord{Node: &DumpNode{Tree: self.tree, Addr: addr, Owner: n.Owner,
		Generation: n.Generation, Level: n.Level, NrItems: n.NrItems}})
	if err != nil {
		return err
	}
	for i, p := range n.Ptrs {
		err := self.sink.emit(&DumpRecord{Ptr: &DumpPtr{Index: i, Key: p.Key.String(), BlockPtr: p.BlockPtr, Generation: p.Generation}})
		if err != nil {
			return err
		}
	}
	return nil
}

func (self *dumper) Item(it *disk.Item) (Result, error) {
	r := &DumpRecord{Item: &DumpItem{Index: self.index, Key: it.Key.String(), Size: len(it.Data), Detail: describeItem(it)}}
	self.index++
	return Continue, self.sink.emit(r)
}

// Dump writes the chunk tree, the root tree, FS_TREE and the list of
// subvolumes to w.
func (self *Volume) Dump(w io.Writer, format string) error {
	sink, err := newDumpSink(w, format)
	if err != nil {
		return err
	}
	defer self.lock.Locked()()
	for _, id := range []uint64{disk.ChunkTreeObjectID, disk.RootTreeObjectID, disk.FSTreeObjectID} {
		d := &dumper{tree: disk.ObjectIDName(id), sink: sink}
		if _, err := self.walkTree(id, minKey, maxKey, d); err != nil {
			return fmt.Errorf("dump %s: %w", d.tree, err)
		}
	}
	for i := range self.subvols {
		if err := sink.emit(&DumpRecord{Subvolume: &self.subvols[i]}); err != nil {
			return err
		}
	}
	return nil
}

func modeString(mode uint32) string {
	var t string
	switch mode & disk.ModeTypeMask {
	case disk.ModeDir:
		t = "dir"
	case disk.ModeRegular:
		t = "file"
	case disk.ModeSymlink:
		t = "symlink"
	default:
		t = "special"
	}
	return fmt.Sprintf("%s %#o", t, mode&^disk.ModeTypeMask)
}

// describeItem renders the payload of the item types this reader
// understands; others are left blank.
func describeItem(it *disk.Item) string {
	switch it.Key.Type {
	case disk.InodeItemKey:
		if i, err := disk.DecodeInodeItem(it.Data); err == nil {
			return fmt.Sprintf("inode %s size %d nlink %d uid %d gid %d", modeString(i.Mode), i.Size, i.NLink, i.UID, i.GID)
		}
	case disk.InodeRefKey:
		if refs, err := disk.DecodeInodeRefs(it.Data); err == nil {
			var names []string
			for _, r := range refs {
				names = append(names, fmt.Sprintf("%q@%d", r.Name, r.Index))
			}
			return "ref " + strings.Join(names, " ")
		}
	case disk.DirItemKey, disk.DirIndexKey, disk.XattrItemKey:
		if ents, err := disk.DecodeDirEntries(it.Data); err == nil {
			var names []string
			for _, e := range ents {
				names = append(names, fmt.Sprintf("%q -> %v", e.Name, e.Location))
			}
			return "entry " + strings.Join(names, ", ")
		}
	case disk.ExtentDataKey:
		if x, err := disk.DecodeExtentData(it.Data); err == nil {
			c := codec.Name(x.Compression)
			if x.Type == disk.FileExtentInline {
				return fmt.Sprintf("extent inline %d bytes compression %s", x.RAMBytes, c)
			}
			return fmt.Sprintf("extent type %d disk %#x+%d offset %d len %d compression %s",
				x.Type, x.DiskBytenr, x.DiskNumBytes, x.Offset, x.NumBytes, c)
		}
	case disk.RootItemKey:
		if r, err := disk.DecodeRootItem(it.Data); err == nil {
			return fmt.Sprintf("root @%#x level %d generation %d dirid %d", r.Bytenr, r.Level, r.Generation, r.RootDirID)
		}
	case disk.RootRefKey, disk.RootBackrefKey:
		if r, err := disk.DecodeRootRef(it.Data); err == nil {
			return fmt.Sprintf("rootref dir %d seq %d name %q", r.DirID, r.Sequence, r.Name)
		}
	case disk.ChunkItemKey:
		if c, err := disk.DecodeChunk(it.Data); err == nil && len(c.Stripes) > 0 {
			return fmt.Sprintf("chunk size %#x %s stripes %d -> dev %d @%#x",
				c.Size, disk.ProfileName(c.Type), len(c.Stripes), c.Stripes[0].DevID, c.Stripes[0].Offset)
		}
	case disk.DevItemKey:
		if d, err := disk.DecodeDevItem(it.Data); err == nil {
			return fmt.Sprintf("dev %d size %d used %d uuid %s", d.DevID, d.TotalBytes, d.BytesUsed, d.UUID)
		}
	default:
		return ""
	}
	return "(undecodable)"
}
