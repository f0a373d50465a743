// Package inflight counts outstanding operations, typically HTTP requests,
// so rate limiters and progress monitors can read a live total.
package inflight

import (
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// Counter tracks operations between Begin and the returned done func.
// The zero value is ready to use.
type Counter struct {
	active atomic.Int64
	peak   atomic.Int64
	total  atomic.Uint64
}

// Begin marks one operation as started. done is idempotent.
func (c *Counter) Begin() (done func()) {
	n := c.active.Add(1)
	c.total.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() { c.active.Add(-1) })
	}
}

// Active satisfies ratelimit.Counter.
func (c *Counter) Active() int { return int(c.active.Load()) }

// Peak is the highest Active value observed.
func (c *Counter) Peak() int { return int(c.peak.Load()) }

// Total is the number of operations ever started.
func (c *Counter) Total() uint64 { return c.total.Load() }

// Transport counts every round trip from start until its response body is
// closed (or the round trip fails).
func (c *Counter) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{base: base, c: c}
}

type transport struct {
	base http.RoundTripper
	c    *Counter
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	done := t.c.Begin()
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil || resp.Body == nil {
		done()
		return resp, err
	}
	resp.Body = &countedBody{ReadCloser: resp.Body, done: done}
	return resp, nil
}

type countedBody struct {
	io.ReadCloser
	done func()
}

func (b *countedBody) Close() error {
	err := b.ReadCloser.Close()
	b.done()
	return err
}
