// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"sync"
	"time"
)

type (
	// Clock is the time source of the rendezvous engine and the session
	// wait timers. Production code uses RealClock; tests drive a FakeClock.
	Clock interface {
		// Now returns the current time.
		Now() time.Time

		// After delivers the current time once d has elapsed.
		After(d time.Duration) <-chan time.Time

		// Since returns the time elapsed since t.
		Since(t time.Time) time.Duration
	}

	// RealClock implements Clock with the system clock.
	RealClock struct{}

	// FakeClock implements Clock with manually controlled time.
	// Time only moves when Advance or Set is called.
	FakeClock struct {
		mu      sync.Mutex
		current time.Time
		timers  []fakeTimer
		armed   chan struct{}
	}

	fakeTimer struct {
		deadline time.Time
		ch       chan time.Time
	}
)

// Now returns the current system time.
func (RealClock) Now() time.Time { return time.Now() }

// After wraps time.After.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Since wraps time.Since.
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// NewFakeClock creates a FakeClock set to initial, or to 2020-01-01 UTC
// when initial is the zero time.
func NewFakeClock(initial time.Time) *FakeClock {
	if initial.IsZero() {
		initial = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &FakeClock{current: initial, armed: make(chan struct{}, 1024)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that fires once the fake time reaches now+d.
// Non-positive durations fire immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.timers = append(c.timers, fakeTimer{deadline: c.current.Add(d), ch: ch})
	if c.armed != nil {
		select {
		case c.armed <- struct{}{}:
		default:
		}
	}
	return ch
}

// Since returns the fake time elapsed since t.
func (c *FakeClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

// Advance moves the fake time forward by d and fires every due timer.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fire()
}

// Set moves the fake time to t and fires every due timer.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
	c.fire()
}

// Pending returns the number of timers that have not fired yet.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// WaitForTimers blocks until at least n timers are pending or the real-time
// timeout elapses. It reports whether the count was reached.
// Tests use it to make sure a blocked session armed its wait timer before
// the fake time is advanced.
func (c *FakeClock) WaitForTimers(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if c.Pending() >= n {
			return true
		}
		select {
		case <-c.armed:
		case <-time.After(time.Millisecond):
		case <-deadline:
			return c.Pending() >= n
		}
	}
}

// fire must be called with mu held.
func (c *FakeClock) fire() {
	remaining := c.timers[:0]
	for _, tm := range c.timers {
		if c.current.Before(tm.deadline) {
			remaining = append(remaining, tm)
			continue
		}
		select {
		case tm.ch <- c.current:
		default:
		}
	}
	c.timers = remaining
}
