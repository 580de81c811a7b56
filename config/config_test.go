/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Mon Oct  5 13:02:10 2026 mstenber
 * Last modified: Tue Oct  6 09:44:30 2026 mstenber
 * Edit time:     21 min
 *
 */

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stvp/assert"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	v := New()
	c, err := Load(v, "")
	assert.Nil(t, err)
	assert.Equal(t, c.CacheSize, uint64(16<<20))
	assert.Equal(t, c.LockTimeout, 10*time.Second)
	assert.Equal(t, c.Dump, DumpAuto)
	_, ok, err := c.SubvolumeID()
	assert.Nil(t, err)
	assert.True(t, !ok)
}

func TestConfigFile(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "btrfsro-config")
	assert.Nil(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "btrfsro.yaml")
	err = os.WriteFile(path, []byte("cache_size: 4096\nlock_timeout: 2s\nsubvol: snap1\nfuse:\n  allow_other: true\n"), 0644)
	assert.Nil(t, err)

	c, err := Load(New(), path)
	assert.Nil(t, err)
	assert.Equal(t, c.CacheSize, uint64(4096))
	assert.Equal(t, c.LockTimeout, 2*time.Second)
	assert.Equal(t, c.Subvol, "snap1")
	assert.True(t, c.Fuse.AllowOther)

	_, err = Load(New(), filepath.Join(dir, "missing.yaml"))
	assert.True(t, err != nil)
}

func TestSubvolumeID(t *testing.T) {
	t.Parallel()
	check := func(s string, want uint64, valid bool) {
		c := Config{SubvolID: s, Dump: DumpAuto, DumpFormat: "text"}
		id, ok, err := c.SubvolumeID()
		if !valid {
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.True(t, c.Validate() != nil)
			return
		}
		assert.Nil(t, err)
		assert.True(t, ok)
		assert.Equal(t, id, want)
	}
	check("0", 5, true)
	check("256", 256, true)
	check("0x101", 0x101, true)
	check("5", 0, false)
	check("255", 0, false)
	check("-5", 0, false)
	check("-1", ^uint64(0), true)
	check("-256", ^uint64(256)+1, true)
	check("snap", 0, false)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	c := Config{Dump: "sometimes", DumpFormat: "text"}
	assert.True(t, c.Validate() != nil)
	c = Config{Dump: DumpNone, DumpFormat: "xml"}
	assert.True(t, c.Validate() != nil)
	c = Config{Dump: DumpNone, DumpFormat: "json", Subvol: "a", SubvolID: "256"}
	assert.True(t, c.Validate() != nil)
	c = Config{Dump: DumpOnly, DumpFormat: "cbor", Subvol: "a"}
	assert.Nil(t, c.Validate())
}
