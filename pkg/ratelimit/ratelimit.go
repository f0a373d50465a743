package ratelimit

import (
	"errors"
	"fmt"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"golang.org/x/time/rate"
)

var ErrInvalidWindows = errors.New("ratelimit: invalid windows")

// DefaultMaxActive mirrors the usual per-host browser connection budget.
const DefaultMaxActive = 4

// Limiter gates a dequeue attempt. Allow may consume capacity (token buckets do).
type Limiter interface {
	Allow() bool
}

// Func adapts a plain predicate to Limiter.
type Func func() bool

func (f Func) Allow() bool { return f() }

// Counter reports the number of operations currently outstanding.
type Counter interface {
	Active() int
}

// CounterFunc adapts a plain function to Counter.
type CounterFunc func() int

func (f CounterFunc) Active() int { return f() }

// MaxActive allows a dequeue while c reports strictly fewer than max active operations.
// max <= 0 means DefaultMaxActive.
func MaxActive(c Counter, max int) Limiter {
	if max <= 0 {
		max = DefaultMaxActive
	}
	return Func(func() bool { return c.Active() < max })
}

// TokenBucket allows perSec dequeues per second with the given burst.
// burst <= 0 defaults to max(1, perSec).
func TokenBucket(perSec float64, burst int) Limiter {
	if burst <= 0 {
		burst = int(perSec)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// Windows allows a dequeue while every sliding window has room, e.g.
// {time.Second: 5, time.Minute: 100}. Each longer window must allow more
// events at a lower rate than the shorter ones, otherwise ErrInvalidWindows.
func Windows(rates map[time.Duration]int) (l Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			l, err = nil, fmt.Errorf("%w: %v", ErrInvalidWindows, rates)
		}
	}()
	return &windowLimiter{l: catrate.NewLimiter(rates)}, nil
}

type windowLimiter struct {
	l *catrate.Limiter
}

func (w *windowLimiter) Allow() bool {
	_, ok := w.l.Allow(windowCategory{})
	return ok
}

type windowCategory struct{}

// All allows only if every limiter allows. Evaluation stops at the first
// refusal so later limiters (which may consume capacity) are not charged.
// Nil entries are skipped; with no limiters the result always allows.
func All(limiters ...Limiter) Limiter {
	ls := make([]Limiter, 0, len(limiters))
	for _, l := range limiters {
		if l != nil {
			ls = append(ls, l)
		}
	}
	if len(ls) == 1 {
		return ls[0]
	}
	return Func(func() bool {
		for _, l := range ls {
			if !l.Allow() {
				return false
			}
		}
		return true
	})
}
