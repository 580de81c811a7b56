/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 30 13:41:33 2017 mstenber
 * Last modified: Mon Oct  5 11:02:19 2026 mstenber
 * Edit time:     131 min
 *
 */

// mlog is maybe-log, or Markus' log. It is a small tracing wrapper
// of standard 'log':
//
// - what to print is chosen with a regular expression matched against
// the file tag given to Printf2 (or the real file name with Printf);
// the pattern comes from the MLOG environment variable or from
// Configure. What is not printed costs next to nothing (by default,
// everything is off).
//
// - to facilitate tracing, call stack depth is used to determine
// indentation automatically.
//
// Output goes to a *log.Logger; the btrfsro logger package points it
// at zap so traces end up next to the operational log.
package mlog

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fingon/go-btrfsro/util/gid"
)

const (
	stateUninitialized int32 = iota
	stateDisabled
	stateEnabled
)

const maxDepth = 100

const envName = "MLOG"

type state struct {
	// status is accessed atomically; everything else with lock held
	status int32

	lock        sync.Mutex
	logger      *log.Logger
	pattern     string
	re          *regexp.Regexp
	fileMatches map[string]bool
	minDepth    int
	callers     []uintptr
	gids        bool
}

var st = &state{
	logger: log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds),
	gids:   true,
}

func init() {
	Reset()
}

// Reset returns the module to its default state; the next log call
// re-reads the environment.
func Reset() {
	st.lock.Lock()
	defer st.lock.Unlock()
	atomic.StoreInt32(&st.status, stateUninitialized)
	st.minDepth = maxDepth
	st.callers = make([]uintptr, maxDepth)
}

// IsEnabled can be used to check if mlog is in use at all before
// doing something expensive.
func IsEnabled() bool {
	return atomic.LoadInt32(&st.status) != stateDisabled
}

// SetLogger overrides the output logger. The returned undo function
// restores the previous one.
func SetLogger(l *log.Logger) (undo func()) {
	st.lock.Lock()
	defer st.lock.Unlock()
	old := st.logger
	st.logger = l
	return func() {
		st.lock.Lock()
		defer st.lock.Unlock()
		st.logger = old
	}
}

// SetGoroutineIDs toggles the goroutine id prefix of each line.
func SetGoroutineIDs(enabled bool) (undo func()) {
	st.lock.Lock()
	defer st.lock.Unlock()
	old := st.gids
	st.gids = enabled
	return func() {
		st.lock.Lock()
		defer st.lock.Unlock()
		st.gids = old
	}
}

// SetPattern sets the pattern by hand, overriding the environment.
// Invalid patterns are rejected. The returned undo function restores
// the previous pattern.
func SetPattern(p string) (undo func(), err error) {
	st.lock.Lock()
	defer st.lock.Unlock()
	old := st.pattern
	if err = st.setPattern(p); err != nil {
		return func() {}, err
	}
	return func() {
		st.lock.Lock()
		defer st.lock.Unlock()
		st.setPattern(old)
	}, nil
}

// Configure is SetPattern for process startup; an empty pattern
// leaves whatever MLOG says in effect.
func Configure(p string) error {
	if p == "" {
		return nil
	}
	_, err := SetPattern(p)
	return err
}

func (self *state) setPattern(p string) error {
	if p == "" {
		atomic.StoreInt32(&self.status, stateDisabled)
		self.pattern = p
		return nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return fmt.Errorf("mlog: invalid pattern %q: %w", p, err)
	}
	self.re = re
	self.fileMatches = make(map[string]bool)
	self.pattern = p
	atomic.StoreInt32(&self.status, stateEnabled)
	return nil
}

func (self *state) initialize() {
	if err := self.setPattern(os.Getenv(envName)); err != nil {
		self.logger.Printf("%s", err)
		self.setPattern("")
	}
}

// Printf is drop-in replacement of log.Printf. It does
// runtime.Caller() if mlog is enabled at all, so Printf2 is
// preferable in hot paths.
func Printf(format string, args ...interface{}) {
	if atomic.LoadInt32(&st.status) == stateDisabled {
		return
	}
	_, file, _, ok := runtime.Caller(1)
	if !ok {
		return
	}
	st.printf(file, format, args...)
}

// Printf2 is supplied with the name (tag) of the file, and therefore
// has no runtime penalty to speak of when only some tags match.
func Printf2(file string, format string, args ...interface{}) {
	if atomic.LoadInt32(&st.status) == stateDisabled {
		return
	}
	st.printf(file, format, args...)
}

func (self *state) printf(file string, format string, args ...interface{}) {
	self.lock.Lock()
	defer self.lock.Unlock()
	if atomic.LoadInt32(&self.status) == stateUninitialized {
		self.initialize()
	}
	if atomic.LoadInt32(&self.status) != stateEnabled {
		return
	}
	match, ok := self.fileMatches[file]
	if !ok {
		match = self.re.MatchString(file)
		self.fileMatches[file] = match
	}
	if !match {
		return
	}
	// 3 = runtime.Callers, printf, Printf/Printf2
	depth := runtime.Callers(3, self.callers)
	if depth < self.minDepth {
		self.minDepth = depth
	}
	depth -= self.minDepth
	if depth > 0 {
		format = strings.Repeat(".", depth) + format
	}
	if self.gids {
		format = fmt.Sprintf("%8d %s", gid.GetGoroutineID(), format)
	}
	self.logger.Printf(format, args...)
}
