/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan  4 12:21:40 2018 mstenber
 * Last modified: Mon Oct  5 10:12:40 2026 mstenber
 * Edit time:     41 min
 *
 */

package util

import (
	"sync"
	"time"
)

// MutexLocked is sync.Mutex with convenience features (just defer
// x.Locked()()).
type MutexLocked sync.Mutex

func (self *MutexLocked) Locked() (unlock func()) {
	mut := (*sync.Mutex)(self)
	mut.Lock()
	return func() {
		mut.Unlock()
	}
}

// TimedMutex is a mutex whose acquisition gives up after a given
// wait. Zero value is usable.
type TimedMutex struct {
	once sync.Once
	ch   chan struct{}
}

func (self *TimedMutex) init() {
	self.once.Do(func() {
		self.ch = make(chan struct{}, 1)
	})
}

// LockFor tries to acquire the lock within d. Non-positive d waits
// forever.
func (self *TimedMutex) LockFor(d time.Duration) bool {
	self.init()
	if d <= 0 {
		self.ch <- struct{}{}
		return true
	}
	select {
	case self.ch <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case self.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (self *TimedMutex) Unlock() {
	select {
	case <-self.ch:
	default:
		panic("util: unlock of unlocked TimedMutex")
	}
}

// LockedFor is the TimedMutex counterpart of MutexLocked.Locked; ok
// is false (and unlock nil) if the wait expired.
func (self *TimedMutex) LockedFor(d time.Duration) (unlock func(), ok bool) {
	if !self.LockFor(d) {
		return nil, false
	}
	return self.Unlock, true
}
