package heartbeat

import (
	"sync"
	"time"

	"pacer/pkg/clock"
	logx "pacer/pkg/logx"
)

// State is the scheduling state of a Timer.
type State int

const (
	StateStopped State = iota
	StateRepeating
	StateSinglePending
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRepeating:
		return "repeating"
	case StateSinglePending:
		return "single-pending"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Option configures a Timer at construction.
type Option func(*Timer)

// WithClock sets the scheduling clock (default clock.System()).
func WithClock(c clock.Clock) Option { return func(t *Timer) { t.clock = c } }

// WithRegistry registers the timer in r instead of the default registry.
// A nil registry leaves the timer unregistered.
func WithRegistry(r *Registry) Option {
	return func(t *Timer) {
		t.reg = r
		t.regSet = true
	}
}

// SingleShot makes the timer fire once per Start.
func SingleShot() Option { return func(t *Timer) { t.single = true } }

func WithLogger(log logx.Logger) Option { return func(t *Timer) { t.log = log } }

// Timer wraps a clock so the callback can be stopped, paused and restarted.
//
// At most one underlying schedule exists per Timer. Callbacks never run with
// the Timer's lock held, so they may call back into the Timer.
type Timer struct {
	mu sync.Mutex

	fn     func()
	every  time.Duration
	single bool
	paused bool

	handle clock.Handle
	// gen invalidates callbacks scheduled before the latest Stop/Start.
	gen uint64

	clock  clock.Clock
	log    logx.Logger
	reg    *Registry
	regSet bool
	remove func()
}

// New creates a stopped timer calling fn every period.
func New(fn func(), every time.Duration, opts ...Option) *Timer {
	t := &Timer{fn: fn, every: every}
	for _, o := range opts {
		o(t)
	}
	if t.clock == nil {
		t.clock = clock.System()
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	if !t.regSet {
		t.reg = Default()
	}
	if t.reg != nil {
		t.remove = t.reg.add(t)
	}
	return t
}

// Start schedules the callback. It is a no-op if already scheduled.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked()
}

func (t *Timer) startLocked() {
	t.paused = false
	if t.handle != nil {
		return
	}
	t.gen++
	gen := t.gen
	if t.single {
		t.handle = t.clock.AfterFunc(t.every, func() { t.fire(gen) })
	} else {
		t.handle = t.clock.Every(t.every, func() { t.fire(gen) })
	}
	t.log.Trace("heartbeat scheduled", logx.Duration("every", t.every), logx.Bool("single", t.single))
}

// Stop cancels any schedule and clears the paused mark.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.paused = false
}

func (t *Timer) stopLocked() {
	if t.handle == nil {
		return
	}
	t.handle.Stop()
	t.handle = nil
	t.gen++
	t.log.Trace("heartbeat stopped")
}

// Pause cancels any schedule and marks the timer paused, so Unpause can
// resume it. A paused timer also blocks queue autostart.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.paused = true
}

// Unpause restarts the timer only if it is paused.
func (t *Timer) Unpause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		t.startLocked()
	}
}

// BeatNow runs the callback immediately on the caller's goroutine.
// A single-shot timer counts this as its shot and is stopped first.
func (t *Timer) BeatNow() {
	t.mu.Lock()
	if t.single {
		t.stopLocked()
		t.paused = false
	}
	fn := t.fn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Reset stops then starts the timer.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.startLocked()
}

func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.every
}

// SetInterval changes the period; a running timer is restarted so it takes effect.
func (t *Timer) SetInterval(every time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasRunning := t.handle != nil
	if wasRunning {
		t.stopLocked()
		t.paused = false
	}
	t.every = every
	if wasRunning {
		t.startLocked()
	}
}

// SetFunction replaces the callback for future invocations.
func (t *Timer) SetFunction(fn func()) {
	t.mu.Lock()
	t.fn = fn
	t.mu.Unlock()
}

// SetSingle switches between single-shot and repeating mode. It applies from the next Start.
func (t *Timer) SetSingle(single bool) {
	t.mu.Lock()
	t.single = single
	t.mu.Unlock()
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.handle != nil && t.single:
		return StateSinglePending
	case t.handle != nil:
		return StateRepeating
	case t.paused:
		return StatePaused
	default:
		return StateStopped
	}
}

// Running reports whether a callback is scheduled.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle != nil
}

func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Close stops the timer and removes it from its registry. The timer may still
// be started again afterwards, but bulk registry operations no longer reach it.
func (t *Timer) Close() {
	t.mu.Lock()
	t.stopLocked()
	t.paused = false
	remove := t.remove
	t.remove = nil
	t.mu.Unlock()
	if remove != nil {
		remove()
	}
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if t.handle == nil || gen != t.gen {
		t.mu.Unlock()
		return
	}
	if t.single {
		// One shot per Start: back to stopped before the callback runs so it may restart us.
		t.handle.Stop()
		t.handle = nil
		t.gen++
	}
	fn := t.fn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
