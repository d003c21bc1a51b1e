package openprotocol

import (
	"sort"
	"sync"
	"time"
)

// fakeClock is a manually-advanced clock for deterministic tests of
// heartbeat, watchdog, and command-timeout scheduling without real
// sleeps.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	seq     int
}

type fakeTimer struct {
	id      int
	fire    time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Canceler {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{id: c.seq, fire: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the fake clock forward by d, firing any due timers in
// fire-time order (including ones scheduled by earlier callbacks, as
// long as their deadline falls within the advanced window).
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.Slice(c.timers, func(i, j int) bool { return c.timers[i].fire.Before(c.timers[j].fire) })
		var due *fakeTimer
		for _, t := range c.timers {
			if t.stopped {
				continue
			}
			if !t.fire.After(target) {
				due = t
				break
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		due.stopped = true
		c.now = due.fire
		cb := due.f
		c.mu.Unlock()
		cb()
	}
}
