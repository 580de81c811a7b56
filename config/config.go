/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Mon Oct  5 12:10:44 2026 mstenber
 * Last modified: Tue Oct  6 09:41:12 2026 mstenber
 * Edit time:     58 min
 *
 */

// config holds the btrfsro settings. Values come from (in order of
// increasing precedence) defaults, a YAML config file, BTRFSRO_*
// environment variables and command line flags bound by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AppName   = "btrfsro"
	EnvPrefix = "BTRFSRO"
)

// Dump modes
const (
	DumpAuto = "auto"
	DumpNone = "none"
	DumpOnly = "only"
)

// Object ids that can never be subvolumes live below this (and above
// its negation).
const firstFreeObjectID = 0x100

// fsTreeObjectID is what --subvol-id=0 and --subvol=default mean.
const fsTreeObjectID = 5

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`
	MLog      string `mapstructure:"mlog"`

	CacheSize   uint64        `mapstructure:"cache_size"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	NodeCache   int           `mapstructure:"node_cache"`

	Subvol     string `mapstructure:"subvol"`
	SubvolID   string `mapstructure:"subvol_id"`
	Dump       string `mapstructure:"dump"`
	DumpFormat string `mapstructure:"dump_format"`

	Fuse struct {
		AllowOther bool `mapstructure:"allow_other"`
		Debug      bool `mapstructure:"debug"`
	} `mapstructure:"fuse"`

	CPUProfile string `mapstructure:"cpuprofile"`
	MemProfile string `mapstructure:"memprofile"`
}

// New returns a viper instance with defaults and environment lookup
// set up, ready for flag binding.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")
	v.SetDefault("log_file", "")
	v.SetDefault("mlog", "")
	v.SetDefault("cache_size", 16<<20)
	v.SetDefault("lock_timeout", 10*time.Second)
	v.SetDefault("node_cache", 10000)
	v.SetDefault("subvol", "")
	v.SetDefault("subvol_id", "")
	v.SetDefault("dump", DumpAuto)
	v.SetDefault("dump_format", "text")
	v.SetDefault("fuse.allow_other", false)
	v.SetDefault("fuse.debug", false)
	v.SetDefault("cpuprofile", "")
	v.SetDefault("memprofile", "")
}

func addSearchPaths(v *viper.Viper) {
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", AppName))
	}
	v.AddConfigPath("/etc/" + AppName)
}

// Load reads the config file (explicit path, or btrfsro.yaml from the
// search path if one exists) and returns the validated result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		addSearchPaths(v)
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (self *Config) Validate() error {
	switch self.Dump {
	case DumpAuto, DumpNone, DumpOnly:
	default:
		return fmt.Errorf("%w: dump %q (expected auto, none or only)", ErrInvalid, self.Dump)
	}
	switch self.DumpFormat {
	case "text", "json", "cbor":
	default:
		return fmt.Errorf("%w: dump_format %q", ErrInvalid, self.DumpFormat)
	}
	if self.Subvol != "" && self.SubvolID != "" {
		return fmt.Errorf("%w: more than one subvolume to mount", ErrInvalid)
	}
	if _, _, err := self.SubvolumeID(); err != nil {
		return err
	}
	return nil
}

// SubvolumeID decodes subvol_id. Negative input is accepted and
// wraps like on-disk object ids do (-5 is the orphan objectid and so
// on). ok is false if no id was configured.
func (self *Config) SubvolumeID() (id uint64, ok bool, err error) {
	s := strings.TrimSpace(self.SubvolID)
	if s == "" {
		return 0, false, nil
	}
	if strings.HasPrefix(s, "-") {
		var n int64
		n, err = strconv.ParseInt(s, 0, 64)
		id = uint64(n)
	} else {
		id, err = strconv.ParseUint(s, 0, 64)
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: indecipherable subvolume id %q", ErrInvalid, self.SubvolID)
	}
	if ImpossibleSubvolumeID(id) {
		return 0, false, fmt.Errorf("%w: %d is an impossible subvolume id", ErrInvalid, id)
	}
	if id == 0 {
		id = fsTreeObjectID
	}
	return id, true, nil
}

// ImpossibleSubvolumeID reports ids reserved for internal trees;
// mounting one of those as a filesystem tree is never right.
func ImpossibleSubvolumeID(id uint64) bool {
	neg := ^uint64(firstFreeObjectID) + 1 // two's complement of firstFreeObjectID (2^64 - 0x100)
	return (id > 0 && id < firstFreeObjectID) || (id > neg && id < ^uint64(0))
}
