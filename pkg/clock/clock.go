package clock

import (
	"sync"
	"time"
)

// MinPeriod is the shortest period accepted by System.Every.
const MinPeriod = time.Millisecond

// Handle cancels a scheduled callback. Stop is idempotent.
//
// Stop never waits for a callback that is already running, and a callback
// that was already due may still run once after Stop returns. Callers that
// need exact semantics track a generation of their own.
type Handle interface {
	Stop()
}

// Clock schedules one-shot and repeating callbacks.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f once, d from now.
	AfterFunc(d time.Duration, f func()) Handle
	// Every runs f every d until the handle is stopped. The first call happens d from now.
	Every(d time.Duration, f func()) Handle
}

// System returns the wall-clock implementation.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Handle {
	if d < 0 {
		d = 0
	}
	return timerHandle{t: time.AfterFunc(d, f)}
}

func (systemClock) Every(d time.Duration, f func()) Handle {
	if d < MinPeriod {
		d = MinPeriod
	}
	h := &tickerHandle{t: time.NewTicker(d), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-h.done:
				return
			case <-h.t.C:
				// Re-check so a Stop that raced with the tick wins.
				select {
				case <-h.done:
					return
				default:
				}
				f()
			}
		}
	}()
	return h
}

type timerHandle struct{ t *time.Timer }

func (h timerHandle) Stop() { h.t.Stop() }

type tickerHandle struct {
	t    *time.Ticker
	done chan struct{}
	once sync.Once
}

func (h *tickerHandle) Stop() {
	h.once.Do(func() {
		h.t.Stop()
		close(h.done)
	})
}

// HandleFunc adapts a plain function to Handle.
type HandleFunc func()

func (f HandleFunc) Stop() {
	if f != nil {
		f()
	}
}
