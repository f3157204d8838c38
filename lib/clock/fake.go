// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	deadline time.Time

	// Exactly one of channel and callback is set.
	channel  chan time.Time
	callback func()

	done bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a pending timer that fires when Advance moves past
// now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&pendingTimer{deadline: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run inside the Advance call that crosses
// now+d. A non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	timer := &pendingTimer{deadline: c.now.Add(d), callback: f}
	c.addLocked(timer)
	c.mu.Unlock()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if timer.done {
			return false
		}
		timer.done = true
		return true
	}}
}

// Sleep blocks until Advance moves past now+d.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves time forward by d, firing every timer whose deadline
// is reached in deadline order. While a timer fires, Now reads its
// deadline, so a callback that re-arms itself with AfterFunc keeps a
// steady period and fires again within the same Advance when due.
// Callbacks run on the caller's goroutine.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		timer := c.takeNext(target)
		if timer == nil {
			break
		}
		if timer.callback != nil {
			timer.callback()
			continue
		}
		timer.channel <- timer.deadline
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// takeNext removes and returns the earliest timer due at or before
// target, moving now to its deadline. Returns nil when none is due.
func (c *FakeClock) takeNext(target time.Time) *pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.pending[:0]
	for _, timer := range c.pending {
		if !timer.done {
			live = append(live, timer)
		}
	}
	c.pending = live
	if len(c.pending) == 0 {
		return nil
	}

	sort.SliceStable(c.pending, func(i, j int) bool {
		return c.pending[i].deadline.Before(c.pending[j].deadline)
	})
	next := c.pending[0]
	if next.deadline.After(target) {
		return nil
	}
	c.pending = c.pending[1:]
	next.done = true
	if next.deadline.After(c.now) {
		c.now = next.deadline
	}
	return next
}

func (c *FakeClock) addLocked(timer *pendingTimer) {
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
}

// WaitForTimers blocks until at least n timers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns how many timers have not fired or been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.done {
			count++
		}
	}
	return count
}
