package clock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrLoopStopped = errors.New("clock: loop stopped")

// Loop runs posted functions one at a time, in posting order, on whichever
// goroutine calls Run. It is the cooperative single-threaded executor behind
// Serial: a callback always runs to completion before the next one starts.
//
// Run may be called again after it returns (e.g. after a panicking task was
// recovered by a supervisor); tasks still buffered are kept.
type Loop struct {
	tasks chan func()

	closeOnce sync.Once
	done      chan struct{}
}

// NewLoop creates a loop with the given task buffer (default 1024).
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Post enqueues f. It blocks while the buffer is full and fails once the loop is closed.
// Never call Post from inside a task while the buffer may be full; use a goroutine.
func (l *Loop) Post(f func()) error {
	if f == nil {
		return nil
	}
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- f:
		return nil
	case <-l.done:
		return ErrLoopStopped
	}
}

// Do runs f on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, f func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		f()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
}

// Run executes tasks until ctx is done or Close is called.
// A panicking task unwinds Run; the caller decides whether to restart it.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrLoopStopped
		case f := <-l.tasks:
			f()
		}
	}
}

// Len reports how many tasks are waiting.
func (l *Loop) Len() int { return len(l.tasks) }

// Close stops accepting tasks and makes Run return. Buffered tasks are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Serial returns a Clock whose callbacks are posted to l instead of running
// on the base clock's goroutines.
func Serial(base Clock, l *Loop) Clock {
	if base == nil {
		base = System()
	}
	return serialClock{base: base, loop: l}
}

type serialClock struct {
	base Clock
	loop *Loop
}

func (c serialClock) Now() time.Time { return c.base.Now() }

func (c serialClock) AfterFunc(d time.Duration, f func()) Handle {
	return c.base.AfterFunc(d, func() { _ = c.loop.Post(f) })
}

func (c serialClock) Every(d time.Duration, f func()) Handle {
	return c.base.Every(d, func() { _ = c.loop.Post(f) })
}
