/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Fri Oct 16 17:31:02 2026 mstenber
 * Last modified: Fri Oct 16 18:10:37 2026 mstenber
 * Edit time:     38 min
 *
 */

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fingon/go-btrfsro/btrfs"
	"github.com/fingon/go-btrfsro/config"
	"github.com/fingon/go-btrfsro/device"
	"github.com/fingon/go-btrfsro/fs"
	"github.com/fingon/go-btrfsro/logger"
	"github.com/fingon/go-btrfsro/mlog"
	"github.com/hanwen/go-fuse/fuse"
)

var errNoDevice = errors.New("no device given")

// verifyDevices picks the device to read. Only the first one is used.
func verifyDevices(paths []string) (string, error) {
	if len(paths) == 0 {
		return "", errNoDevice
	}
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return "", err
		}
		if st.IsDir() {
			return "", fmt.Errorf("%s: is a directory", p)
		}
	}
	if len(paths) > 1 {
		logger.Warnw("only single-device volumes are supported; using the first device",
			"device", paths[0], "ignored", paths[1:])
	}
	return paths[0], nil
}

func (self *app) volumeOptions() (btrfs.Options, error) {
	opts := btrfs.Options{CacheSize: self.conf.CacheSize, LockTimeout: self.conf.LockTimeout,
		Subvolume: self.conf.Subvol}
	id, ok, err := self.conf.SubvolumeID()
	if err != nil {
		return opts, err
	}
	if ok {
		opts.SubvolumeID = id
	}
	return opts, nil
}

// openVolume opens the device and reads its trees; no subvolume is
// selected yet.
func (self *app) openVolume(paths []string) (*btrfs.Volume, btrfs.Options, error) {
	opts, err := self.volumeOptions()
	if err != nil {
		return nil, opts, err
	}
	path, err := verifyDevices(paths)
	if err != nil {
		return nil, opts, err
	}
	dev, err := device.Open(path)
	if err != nil {
		return nil, opts, err
	}
	logger.Debugw("device opened", "path", path, "size", dev.Size())
	vol, err := btrfs.Open(dev, opts)
	if err != nil {
		// the reader has closed dev already
		return nil, opts, fmt.Errorf("%s: %w", path, err)
	}
	if n := vol.Superblock().NumDevices; n > uint64(len(paths)) {
		logger.Warnw("volume has more devices than were given", "devices", n, "given", len(paths))
	}
	return vol, opts, nil
}

// mountVolume opens the volume and selects the subvolume.
func (self *app) mountVolume(paths []string) (*btrfs.Volume, error) {
	vol, opts, err := self.openVolume(paths)
	if err != nil {
		return nil, err
	}
	err = vol.SelectSubvolume(opts.Subvolume, opts.SubvolumeID)
	if err != nil {
		vol.Close()
		return nil, err
	}
	return vol, nil
}

func (self *app) mount(mountpoint string, paths []string) error {
	stop, err := self.profile()
	if err != nil {
		return err
	}
	defer stop()

	vol, opts, err := self.openVolume(paths)
	if err != nil {
		return err
	}
	defer vol.Close()

	if self.conf.Dump != config.DumpNone {
		if err := vol.Dump(self.out, self.conf.DumpFormat); err != nil {
			return err
		}
		if self.conf.Dump == config.DumpOnly {
			return nil
		}
	}
	if err := vol.SelectSubvolume(opts.Subvolume, opts.SubvolumeID); err != nil {
		return err
	}

	myfs := fs.NewFs(vol, fs.Options{NodeCache: self.conf.NodeCache})
	mopts := &fuse.MountOptions{AllowOther: self.conf.Fuse.AllowOther,
		Name: "btrfsro", FsName: paths[0]}
	if self.conf.Fuse.Debug || mlog.IsEnabled() {
		mopts.Debug = true
	}
	server, err := fuse.NewServer(&myfs.Ops, mountpoint, mopts)
	if err != nil {
		return err
	}
	info := vol.Info()
	logger.Infow("mounted", "mountpoint", mountpoint, "label", info.Label,
		"uuid", info.UUID.String(), "subvolume", info.Subvolume)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Infow("unmounting", "mountpoint", mountpoint)
		if err := server.Unmount(); err != nil {
			logger.Errorw("unmount failed", err)
		}
	}()

	// loop is here
	server.Serve()
	signal.Stop(sigs)
	return nil
}
