/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 30 14:31:18 2017 mstenber
 * Last modified: Mon Oct  5 11:10:47 2026 mstenber
 * Edit time:     27 min
 *
 */

package mlog

import (
	"bytes"
	"log"
	"testing"

	"github.com/stvp/assert"
)

// mlog state is global, so these tests are deliberately not parallel.

func TestMlog(t *testing.T) {
	defer SetGoroutineIDs(false)()
	add := func(pattern string, outputted bool) {
		t.Run(pattern, func(t *testing.T) {
			var b bytes.Buffer
			logger := log.New(&b, "", 0)
			defer SetLogger(logger)()
			undo, err := SetPattern(pattern)
			assert.Nil(t, err)
			defer undo()
			Printf("foo %s", "bar")
			assert.Equal(t, b.Len() == 0, !outputted)
			if outputted {
				assert.Equal(t, b.String(), "foo bar\n")
			}
		})
	}
	add("", false)
	add("zzzglorb", false)
	add("mlog_test", true)
}

func TestMlogPrintf2(t *testing.T) {
	defer SetGoroutineIDs(false)()
	var b bytes.Buffer
	defer SetLogger(log.New(&b, "", 0))()
	undo, err := SetPattern("^btrfs/")
	assert.Nil(t, err)
	defer undo()

	Printf2("btrfs/walk", "x%d", 1)
	Printf2("device/cache", "y%d", 2)
	assert.Equal(t, b.String(), "x1\n")
}

func TestMlogInvalidPattern(t *testing.T) {
	_, err := SetPattern("(")
	assert.True(t, err != nil)
	assert.True(t, Configure("(") != nil)
	assert.Nil(t, Configure(""))
}

func TestMLogRecursion(t *testing.T) {
	defer SetGoroutineIDs(false)()
	var b bytes.Buffer
	logger := log.New(&b, "", 0)
	Reset()
	defer SetLogger(logger)()
	undo, err := SetPattern(".")
	assert.Nil(t, err)
	defer undo()
	Printf("d0")
	traceLevel1()
	Printf("D0")
	assert.Equal(t, b.String(), "d0\n.d1\n..d2\n.D1\nD0\n")
}

//go:noinline
func traceLevel1() {
	Printf("d1")
	traceLevel2()
	Printf("D1")
}

//go:noinline
func traceLevel2() {
	Printf("d2")
}

func BenchmarkMlogDisabled(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Printf2("x", "y", 42)
	}
}
