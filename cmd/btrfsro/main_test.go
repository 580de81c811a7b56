/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2026 Markus Stenberg
 *
 * Created:       Fri Oct 16 18:24:12 2026 mstenber
 * Last modified: Fri Oct 16 18:49:30 2026 mstenber
 * Edit time:     22 min
 *
 */

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fingon/go-btrfsro/config"
	"github.com/fingon/go-btrfsro/disk"
	"github.com/fingon/go-btrfsro/fstest"
	"github.com/stvp/assert"
)

func writeSample(t *testing.T) string {
	img := fstest.New()
	fs := img.FSTree(disk.FSTreeObjectID)
	a := fs.Mkdir(disk.RootDirObjectID, "a")
	fs.AddFile(a, "b", []byte("bee"))
	fs.AddSymlink(a, "l", "b")
	fs.AddFile(disk.RootDirObjectID, "top", []byte("top level"))
	sub := img.AddSubvolume(fs, disk.RootDirObjectID, "snap1", 257)
	sub.AddFile(disk.RootDirObjectID, "inner", []byte("hello"))
	assert.Nil(t, img.Build())
	path := filepath.Join(t.TempDir(), "image")
	assert.Nil(t, img.WriteFile(path))
	return path
}

func run(args ...string) (string, error) {
	var buf bytes.Buffer
	cmd := newRootCmd(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCat(t *testing.T) {
	t.Parallel()
	image := writeSample(t)
	out, err := run("cat", image, "/a/b")
	assert.Nil(t, err)
	assert.Equal(t, out, "bee")

	out, err = run("cat", "--subvol", "snap1", image, "inner")
	assert.Nil(t, err)
	assert.Equal(t, out, "hello")

	out, err = run("cat", "--subvol-id", "257", image, "/inner")
	assert.Nil(t, err)
	assert.Equal(t, out, "hello")

	_, err = run("cat", image, "/nope")
	assert.True(t, err != nil)
}

func TestLs(t *testing.T) {
	t.Parallel()
	image := writeSample(t)
	out, err := run("ls", image, "/a")
	assert.Nil(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, len(lines), 2)
	assert.True(t, strings.HasSuffix(lines[0], " b"))
	assert.True(t, strings.HasPrefix(lines[0], "-rw-r--r--"))
	assert.True(t, strings.HasSuffix(lines[1], "l -> b"))

	out, err = run("ls", image, "/")
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, " snap1\n"))
	assert.True(t, strings.Contains(out, "drwxr-xr-x"))
}

func TestInfo(t *testing.T) {
	t.Parallel()
	image := writeSample(t)
	out, err := run("info", image)
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, "Label:       testfs\n"))
	assert.True(t, strings.Contains(out, "5f1e6d3c-2b4a-4c8d-9e0f-112233445566"))
	assert.True(t, strings.Contains(out, "Subvolume:   5\n"))
	assert.True(t, strings.Contains(out, `"snap1"`))
}

func TestDump(t *testing.T) {
	t.Parallel()
	image := writeSample(t)
	out, err := run("dump", image)
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, "tree = CHUNK_TREE"))

	out, err = run("dump", "--dump-format", "json", image)
	assert.Nil(t, err)
	assert.True(t, strings.HasPrefix(out, "{"))

	// mount path stops after the dump
	out, err = run("--dump-only", t.TempDir(), image)
	assert.Nil(t, err)
	assert.True(t, strings.Contains(out, "[Subvolume] id = 257"))
}

func TestBadArguments(t *testing.T) {
	t.Parallel()
	image := writeSample(t)
	_, err := run("--no-dump", "--dump-only", t.TempDir(), image)
	assert.True(t, errors.Is(err, config.ErrInvalid))

	_, err = run("cat", "--subvol-id", "7", image, "/top")
	assert.True(t, errors.Is(err, config.ErrInvalid))

	_, err = run("cat", "--subvol", "nope", image, "/top")
	assert.True(t, err != nil)

	_, err = run("cat", filepath.Join(t.TempDir(), "missing"), "/top")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = run(t.TempDir())
	assert.True(t, err != nil)
}

func TestVerifyDevices(t *testing.T) {
	t.Parallel()
	_, err := verifyDevices(nil)
	assert.Equal(t, err, errNoDevice)

	dir := t.TempDir()
	_, err = verifyDevices([]string{dir})
	assert.True(t, err != nil)

	image := writeSample(t)
	p, err := verifyDevices([]string{image, image})
	assert.Nil(t, err)
	assert.Equal(t, p, image)
}
