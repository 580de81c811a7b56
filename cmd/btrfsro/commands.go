/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Fri Oct 16 17:44:19 2026 mstenber
 * Last modified: Fri Oct 16 18:21:05 2026 mstenber
 * Edit time:     29 min
 *
 */

package main

import (
	"fmt"
	"os"
	"path"

	"github.com/fingon/go-btrfsro/fs"
	"github.com/spf13/cobra"
)

func (self *app) dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump DEVICE...",
		Short: "Dump the chunk, root and filesystem trees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vol, _, err := self.openVolume(args)
			if err != nil {
				return err
			}
			defer vol.Close()
			return vol.Dump(self.out, self.conf.DumpFormat)
		},
	}
}

func (self *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info DEVICE...",
		Short: "Show volume information and the subvolume list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vol, err := self.mountVolume(args)
			if err != nil {
				return err
			}
			defer vol.Close()
			info := vol.Info()
			total, free := vol.FreeSpace()
			w := self.out
			fmt.Fprintf(w, "Label:       %s\n", info.Label)
			fmt.Fprintf(w, "UUID:        %s\n", info.UUID)
			fmt.Fprintf(w, "Serial:      %08X\n", info.Serial)
			fmt.Fprintf(w, "Generation:  %d\n", info.Generation)
			fmt.Fprintf(w, "Node size:   %d\n", info.NodeSize)
			fmt.Fprintf(w, "Sector size: %d\n", info.SectorSize)
			fmt.Fprintf(w, "Checksum:    %s\n", info.CsumType)
			fmt.Fprintf(w, "Superblock:  copy %d\n", info.SuperblockCopy)
			fmt.Fprintf(w, "Space:       %d total, %d free\n", total, free)
			fmt.Fprintf(w, "Subvolume:   %d\n", info.Subvolume)
			for _, s := range vol.Subvolumes() {
				fmt.Fprintf(w, "  %d parent %d dir %d gen %d %q\n", s.ID, s.Parent, s.DirID, s.Generation, s.Name)
			}
			return nil
		},
	}
}

// user mounts the volume and returns an in-process fs client for it.
func (self *app) user(paths []string) (*fs.FSUser, func(), error) {
	vol, err := self.mountVolume(paths)
	if err != nil {
		return nil, nil, err
	}
	myfs := fs.NewFs(vol, fs.Options{NodeCache: self.conf.NodeCache})
	return fs.NewFSUser(myfs), func() { myfs.Close() }, nil
}

func (self *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls DEVICE PATH",
		Short: "List a directory of the selected subvolume",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, closer, err := self.user(args[:1])
			if err != nil {
				return err
			}
			defer closer()
			l, err := u.ReadDir(args[1])
			if err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}
			for _, fi := range l {
				name := fi.Name()
				if fi.Mode()&os.ModeSymlink != 0 {
					if target, err := u.Readlink(path.Join(args[1], name)); err == nil {
						name = fmt.Sprintf("%s -> %s", name, target)
					}
				}
				fmt.Fprintf(self.out, "%v %10d %s %s\n", fi.Mode(), fi.Size(),
					fi.ModTime().UTC().Format("2006-01-02 15:04"), name)
			}
			return nil
		},
	}
}

func (self *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat DEVICE PATH",
		Short: "Write a file of the selected subvolume to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, closer, err := self.user(args[:1])
			if err != nil {
				return err
			}
			defer closer()
			if err := u.Copy(self.out, args[1]); err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}
			return nil
		},
	}
}
