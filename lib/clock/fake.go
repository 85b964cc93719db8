// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingTimer
	armed   *sync.Cond
}

type pendingTimer struct {
	deadline time.Time
	channel  chan time.Time
	// period is zero for one-shot timers.
	period time.Duration
	done   bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.armed = sync.NewCond(&fake.mu)
	return fake
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C
}

func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &pendingTimer{deadline: c.now.Add(d), channel: make(chan time.Time, 1)}
	if d <= 0 {
		entry.channel <- c.now
		entry.done = true
	} else {
		c.arm(entry)
	}
	return &Timer{
		C: entry.channel,
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if entry.done {
				return false
			}
			entry.done = true
			return true
		},
	}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker with non-positive interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &pendingTimer{deadline: c.now.Add(d), channel: make(chan time.Time, 1), period: d}
	c.arm(entry)
	return &Ticker{
		C: entry.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.done = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.period = d
			entry.deadline = c.now.Add(d)
			if entry.done {
				entry.done = false
				c.arm(entry)
			}
		},
	}
}

// arm must be called with c.mu held.
func (c *FakeClock) arm(entry *pendingTimer) {
	c.pending = append(c.pending, entry)
	c.armed.Broadcast()
}

// Advance moves time forward by d and fires every timer whose deadline
// is reached, earliest first. A ticker spanning several periods fires
// once per period, subject to its one-slot buffer.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	for {
		due := c.dueLocked()
		if len(due) == 0 {
			return
		}
		for _, entry := range due {
			select {
			case entry.channel <- entry.deadline:
			default:
			}
			if entry.period > 0 {
				entry.deadline = entry.deadline.Add(entry.period)
			} else {
				entry.done = true
			}
		}
	}
}

// dueLocked drops finished timers and returns the live ones whose
// deadline is not after now, sorted by deadline.
func (c *FakeClock) dueLocked() []*pendingTimer {
	var due []*pendingTimer
	live := c.pending[:0]
	for _, entry := range c.pending {
		if entry.done {
			continue
		}
		live = append(live, entry)
		if !entry.deadline.After(c.now) {
			due = append(due, entry)
		}
	}
	clear(c.pending[len(live):])
	c.pending = live
	slices.SortFunc(due, func(a, b *pendingTimer) int { return a.deadline.Compare(b.deadline) })
	return due
}

// WaitForTimers blocks until at least n timers or tickers are armed.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.armed.Wait()
	}
}

// PendingCount returns the number of armed timers and tickers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, entry := range c.pending {
		if !entry.done {
			count++
		}
	}
	return count
}
