/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 13:18:26 2017 mstenber
 * Last modified: Fri Oct 16 18:02:51 2026 mstenber
 * Edit time:     141 min
 *
 */

package main

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"

	"github.com/fingon/go-btrfsro/config"
	"github.com/fingon/go-btrfsro/logger"
	"github.com/fingon/go-btrfsro/mlog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	v       *viper.Viper
	conf    *config.Config
	cfgFile string

	noDump, dumpOnly bool

	out io.Writer
}

func newApp(out io.Writer) *app {
	return &app{v: config.New(), out: out}
}

// setup loads the configuration and brings up logging; it runs
// before every command.
func (self *app) setup(cmd *cobra.Command) (err error) {
	if self.noDump && self.dumpOnly {
		return fmt.Errorf("%w: --no-dump and --dump-only together", config.ErrInvalid)
	}
	if self.noDump {
		self.v.Set("dump", config.DumpNone)
	}
	if self.dumpOnly {
		self.v.Set("dump", config.DumpOnly)
	}
	self.conf, err = config.Load(self.v, self.cfgFile)
	if err != nil {
		return
	}
	err = logger.Init(logger.Config{Debug: self.conf.Debug,
		Format: self.conf.LogFormat, File: self.conf.LogFile})
	if err != nil {
		return
	}
	return mlog.Configure(self.conf.MLog)
}

func (self *app) bindFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.StringVar(&self.cfgFile, "config", "", "config file (default is btrfsro.yaml in standard locations)")
	pf.Bool("debug", false, "Enable debug logging")
	pf.String("log-format", "human", "Log format: json or human")
	pf.String("mlog", "", "Trace log file pattern (regular expression)")
	pf.Uint64("cache-size", 16<<20, "Bytes of metadata to cache")
	pf.String("subvol", "", "Subvolume to use by name (\"default\" = FS_TREE)")
	pf.String("subvol-id", "", "Subvolume to use by id (0 = FS_TREE)")
	pf.String("dump-format", "text", "Tree dump format: text, json or cbor")
	pf.String("cpuprofile", "", "CPU profile file")
	pf.String("memprofile", "", "Memory profile file")
	for key, flag := range map[string]string{
		"debug":       "debug",
		"log_format":  "log-format",
		"mlog":        "mlog",
		"cache_size":  "cache-size",
		"subvol":      "subvol",
		"subvol_id":   "subvol-id",
		"dump_format": "dump-format",
		"cpuprofile":  "cpuprofile",
		"memprofile":  "memprofile",
	} {
		self.v.BindPFlag(key, pf.Lookup(flag))
	}

	f := root.Flags()
	f.BoolVar(&self.noDump, "no-dump", false, "Do not dump the trees at mount")
	f.BoolVar(&self.dumpOnly, "dump-only", false, "Dump the trees and exit without mounting")
	f.Bool("allow-other", false, "Allow other users to access the mount")
	f.Bool("fuse-debug", false, "Log every FUSE request")
	f.Int("node-cache", 10000, "Number of file attribute sets to cache")
	self.v.BindPFlag("fuse.allow_other", f.Lookup("allow-other"))
	self.v.BindPFlag("fuse.debug", f.Lookup("fuse-debug"))
	self.v.BindPFlag("node_cache", f.Lookup("node-cache"))
}

// profile starts the CPU profile if one was asked for; the returned
// function stops it and writes the heap profile.
func (self *app) profile() (stop func(), err error) {
	stop = func() {}
	if self.conf.CPUProfile != "" {
		var f *os.File
		f, err = os.Create(self.conf.CPUProfile)
		if err != nil {
			return
		}
		pprof.StartCPUProfile(f)
		stop = func() {
			pprof.StopCPUProfile()
			f.Close()
		}
	}
	cpuStop := stop
	return func() {
		cpuStop()
		if self.conf.MemProfile == "" {
			return
		}
		f, err := os.Create(self.conf.MemProfile)
		if err != nil {
			logger.Errorw("unable to write memory profile", err)
			return
		}
		pprof.WriteHeapProfile(f)
		f.Close()
	}, nil
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := newApp(out)
	root := &cobra.Command{
		Use:   "btrfsro [flags] MOUNTPOINT DEVICE...",
		Short: "Mount a Btrfs volume read-only in user space",
		Long: `btrfsro reads a Btrfs filesystem image or block device directly and
serves one of its subvolumes read-only over FUSE. Nothing is ever
written to the device.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mount(args[0], args[1:])
		},
	}
	a.bindFlags(root)
	root.AddCommand(a.dumpCmd(), a.infoCmd(), a.lsCmd(), a.catCmd())
	return root
}

func main() {
	err := newRootCmd(os.Stdout).Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "btrfsro: %v\n", err)
		os.Exit(1)
	}
}
