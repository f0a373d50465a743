package queue

import (
	"slices"
	"sync"
	"time"

	"pacer/pkg/clock"
	"pacer/pkg/heartbeat"
	logx "pacer/pkg/logx"
)

// Queue is an ordered buffer bound to zero or one heartbeat.Timer.
//
// It is safe for concurrent use. The lock is never held while Consume, the
// limiter or the observer run, so they may call back into the queue (e.g.
// ReturnItem after a failure). GetNext, including its join scan, is atomic:
// Join and the Filter predicate run with the lock held and must not call
// any Queue method.
type Queue[T any] struct {
	mu    sync.Mutex
	cfg   Config
	hooks Hooks[T]
	items []T

	hb    *heartbeat.Timer
	clock clock.Clock
	log   logx.Logger

	// drain is the pending ProcessAtOnce ApplyNext; drainGen invalidates a
	// callback that was already due when it was cancelled.
	drain    clock.Handle
	drainGen uint64

	added      uint64
	returned   uint64
	dispatched uint64
	joined     uint64
	deferred   uint64
	filtered   uint64
}

func New[T any](cfg Config, hooks Hooks[T]) *Queue[T] {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = logx.Nop()
	}
	q := &Queue[T]{
		cfg:   cfg,
		hooks: hooks,
		clock: cfg.Clock,
		log:   cfg.Logger,
	}
	if hooks.Consume != nil && cfg.Every > 0 {
		opts := []heartbeat.Option{heartbeat.WithClock(cfg.Clock), heartbeat.WithLogger(cfg.Logger)}
		if cfg.Registry != nil {
			opts = append(opts, heartbeat.WithRegistry(cfg.Registry))
		}
		q.hb = heartbeat.New(func() { q.ApplyNext() }, cfg.Every, opts...)
		if !cfg.AutoStart {
			q.hb.Start()
		}
	}
	return q
}

func (q *Queue[T]) Name() string { return q.cfg.Name }

// Timer returns the bound timer, or nil.
func (q *Queue[T]) Timer() *heartbeat.Timer { return q.hb }

// SetObserver binds (or with nil, unbinds) the mutation observer.
func (q *Queue[T]) SetObserver(o Observer) {
	q.mu.Lock()
	q.hooks.Observer = o
	q.mu.Unlock()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the pending items in storage order (oldest first).
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Add appends item and returns it.
func (q *Queue[T]) Add(item T) T {
	q.mu.Lock()
	q.autostartLocked()
	q.items = append(q.items, item)
	q.added++
	q.mu.Unlock()
	q.notify()
	return item
}

// Set replaces the whole queue with a copy of items.
func (q *Queue[T]) Set(items []T) {
	q.mu.Lock()
	q.autostartLocked()
	q.items = slices.Clone(items)
	q.added += uint64(len(items))
	q.autostopLocked()
	q.mu.Unlock()
	q.notify()
}

// GetNext removes and returns the next item, joined with any mergeable
// waiting items. ok is false when the queue is empty.
func (q *Queue[T]) GetNext() (item T, ok bool) {
	q.mu.Lock()
	item, ok = q.nextLocked()
	q.autostopLocked()
	q.mu.Unlock()
	q.notify()
	return item, ok
}

func (q *Queue[T]) nextLocked() (item T, ok bool) {
	n := len(q.items)
	if n == 0 {
		return item, false
	}
	if q.cfg.Order == LIFO {
		item = q.items[n-1]
		q.items = slices.Delete(q.items, n-1, n)
	} else {
		item = q.items[0]
		q.items = slices.Delete(q.items, 0, 1)
	}

	if join := q.hooks.Join; join != nil {
		joined := 0
		// A merged candidate keeps scanning from the same index, so it can absorb later items too.
		for i := 0; i < len(q.items); {
			merged, ok := join(item, q.items[i])
			if !ok {
				i++
				continue
			}
			item = merged
			q.items = slices.Delete(q.items, i, i+1)
			joined++
			if q.cfg.MaxJoin > 0 && joined >= q.cfg.MaxJoin {
				break
			}
		}
		q.joined += uint64(joined)
	}
	return item, true
}

// ApplyNext is the tick body: if the limiter allows, pop the next item and
// hand it to Consume. A refusal leaves the queue untouched for the next tick.
func (q *Queue[T]) ApplyNext() (item T, ok bool) {
	q.mu.Lock()
	lim := q.hooks.Limiter
	q.mu.Unlock()

	if lim != nil && !lim.Allow() {
		q.mu.Lock()
		q.deferred++
		q.mu.Unlock()
		q.log.Trace("dequeue deferred by rate limiter", logx.String("queue", q.cfg.Name))
		return item, false
	}

	item, ok = q.GetNext()
	if ok {
		q.mu.Lock()
		q.dispatched++
		consume := q.hooks.Consume
		q.mu.Unlock()
		if consume != nil {
			consume(item)
		}
	}
	return item, ok
}

// ReturnItem puts item back at the head so a failed item is retried next
// (in FIFO order).
func (q *Queue[T]) ReturnItem(item T) {
	q.mu.Lock()
	q.autostartLocked()
	q.items = slices.Insert(q.items, 0, item)
	q.returned++
	q.mu.Unlock()
	q.notify()
}

// Filter removes every item for which remove returns true and reports how
// many were removed. Survivors keep their relative order. remove runs with
// the queue locked and must not call back into it.
func (q *Queue[T]) Filter(remove func(item T) bool) int {
	q.mu.Lock()
	n := 0
	// Tail to head so deleting in place never skips an element.
	for i := len(q.items) - 1; i >= 0; i-- {
		if remove(q.items[i]) {
			q.items = slices.Delete(q.items, i, i+1)
			n++
		}
	}
	q.filtered += uint64(n)
	q.autostopLocked()
	q.mu.Unlock()
	q.notify()
	return n
}

// Start, Stop, Pause and Unpause drive the bound timer; without one they do nothing.
// Stopping an AutoStart queue is temporary: the next insertion into an empty queue restarts it.
// Pausing is not: a paused timer is never autostarted.

func (q *Queue[T]) Start() {
	if q.hb != nil {
		q.hb.Start()
	}
}

func (q *Queue[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelDrainLocked()
	if q.hb != nil {
		q.hb.Stop()
	}
}

func (q *Queue[T]) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelDrainLocked()
	if q.hb != nil {
		q.hb.Pause()
	}
}

func (q *Queue[T]) Unpause() {
	if q.hb != nil {
		q.hb.Unpause()
	}
}

// Reset empties the queue (stopping the timer when AutoStart is set; a
// paused timer stays paused).
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	q.cancelDrainLocked()
	q.items = nil
	q.autostopLocked()
	q.mu.Unlock()
	q.notify()
}

// SetInterval changes the drain period of the bound timer.
func (q *Queue[T]) SetInterval(every time.Duration) {
	q.mu.Lock()
	q.cfg.Every = every
	q.mu.Unlock()
	if q.hb != nil {
		q.hb.SetInterval(every)
	}
}

// Close stops the bound timer and removes it from its registry.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.cancelDrainLocked()
	q.mu.Unlock()
	if q.hb != nil {
		q.hb.Close()
	}
}

func (q *Queue[T]) Snapshot() Stats {
	q.mu.Lock()
	st := Stats{
		Name:       q.cfg.Name,
		Len:        len(q.items),
		Added:      q.added,
		Returned:   q.returned,
		Dispatched: q.dispatched,
		Joined:     q.joined,
		Deferred:   q.deferred,
		Filtered:   q.filtered,
	}
	q.mu.Unlock()
	if q.hb != nil {
		st.Timer = q.hb.State()
	}
	return st
}

// autostartLocked runs before an insertion so the empty -> non-empty edge is seen.
func (q *Queue[T]) autostartLocked() {
	if !q.cfg.AutoStart || len(q.items) != 0 || q.hb == nil || q.hb.Paused() {
		return
	}
	q.hb.Start()
	q.log.Debug("queue autostarted", logx.String("queue", q.cfg.Name))
	if q.cfg.ProcessAtOnce {
		q.scheduleDrainLocked()
	}
}

// scheduleDrainLocked arranges one out-of-band ApplyNext. At most one is
// pending, and it is dropped if the timer stopped or paused in the meantime.
func (q *Queue[T]) scheduleDrainLocked() {
	if q.drain != nil {
		return
	}
	q.drainGen++
	gen := q.drainGen
	q.drain = q.clock.AfterFunc(ImmediateDelay, func() {
		q.mu.Lock()
		if gen != q.drainGen {
			q.mu.Unlock()
			return
		}
		q.drain = nil
		live := q.hb == nil || q.hb.Running()
		q.mu.Unlock()
		if live {
			q.ApplyNext()
		}
	})
}

func (q *Queue[T]) cancelDrainLocked() {
	if q.drain == nil {
		return
	}
	q.drain.Stop()
	q.drain = nil
	q.drainGen++
}

// autostopLocked stops the timer once the queue is empty. A paused timer is
// left alone so it keeps blocking autostart.
func (q *Queue[T]) autostopLocked() {
	if !q.cfg.AutoStart || len(q.items) != 0 || q.hb == nil || q.hb.Paused() {
		return
	}
	if q.hb.Running() {
		q.log.Debug("queue idle; timer stopped", logx.String("queue", q.cfg.Name))
	}
	q.hb.Stop()
}

func (q *Queue[T]) notify() {
	q.mu.Lock()
	o := q.hooks.Observer
	q.mu.Unlock()
	if o != nil {
		o.Update()
	}
}
