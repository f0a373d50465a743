package clock

import (
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Fake is a virtual clock over benbjohnson/clock's Mock. Nothing fires until
// Advance is called; due callbacks then run synchronously on the caller's
// goroutine in time order. Advance must not be called concurrently.
type Fake struct {
	m *bclock.Mock

	mu   sync.Mutex
	live map[Handle]struct{}
}

// NewFake returns a Fake starting at start (or a fixed epoch when start is zero).
func NewFake(start time.Time) *Fake {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	m := bclock.NewMock()
	m.Set(start)
	return &Fake{m: m, live: map[Handle]struct{}{}}
}

func (c *Fake) Now() time.Time { return c.m.Now() }

func (c *Fake) AfterFunc(d time.Duration, f func()) Handle {
	if d < 0 {
		d = 0
	}
	h := &fakeOnce{c: c}
	c.track(h)
	h.t = c.m.AfterFunc(d, func() {
		c.untrack(h)
		f()
	})
	return h
}

// Every re-arms a one-shot timer before each call, so a callback that stops
// its own handle also cancels the next tick.
func (c *Fake) Every(d time.Duration, f func()) Handle {
	if d < MinPeriod {
		d = MinPeriod
	}
	h := &fakeTicker{c: c, d: d, f: f}
	c.track(h)
	h.mu.Lock()
	h.arm()
	h.mu.Unlock()
	return h
}

// Advance moves virtual time forward by d, firing everything that becomes due.
// Callbacks may schedule or stop timers; anything that becomes due within the
// window fires during the same call.
func (c *Fake) Advance(d time.Duration) { c.m.Add(d) }

// Pending reports how many callbacks are scheduled.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *Fake) track(h Handle) {
	c.mu.Lock()
	c.live[h] = struct{}{}
	c.mu.Unlock()
}

func (c *Fake) untrack(h Handle) {
	c.mu.Lock()
	delete(c.live, h)
	c.mu.Unlock()
}

type fakeOnce struct {
	c *Fake
	t *bclock.Timer
}

func (h *fakeOnce) Stop() {
	h.t.Stop()
	h.c.untrack(h)
}

type fakeTicker struct {
	c *Fake
	d time.Duration
	f func()

	mu      sync.Mutex
	t       *bclock.Timer
	stopped bool
}

func (h *fakeTicker) arm() { h.t = h.c.m.AfterFunc(h.d, h.fire) }

func (h *fakeTicker) fire() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.arm()
	h.mu.Unlock()
	h.f()
}

func (h *fakeTicker) Stop() {
	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		h.t.Stop()
	}
	h.mu.Unlock()
	h.c.untrack(h)
}
