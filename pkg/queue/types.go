package queue

import (
	"fmt"
	"strings"
	"time"

	"pacer/pkg/clock"
	"pacer/pkg/heartbeat"
	logx "pacer/pkg/logx"
	"pacer/pkg/ratelimit"
)

// ImmediateDelay is how long an autostarting queue waits before its first
// drain, so the producer's current call finishes before consumption begins.
const ImmediateDelay = 10 * time.Millisecond

type Order int

const (
	FIFO Order = iota
	LIFO
)

func (o Order) String() string {
	if o == LIFO {
		return "lifo"
	}
	return "fifo"
}

// ParseOrder accepts "fifo", "lifo" and the empty string (fifo).
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		return FIFO, nil
	case "lifo", "filo":
		return LIFO, nil
	default:
		return FIFO, fmt.Errorf("unknown queue order %q", s)
	}
}

// JoinFunc merges a waiting candidate into the popped item.
// ok=false means the two cannot be merged. It should be pure: it runs with
// the queue lock held and must not call back into the queue.
type JoinFunc[T any] func(popped, candidate T) (merged T, ok bool)

// Observer is notified after every queue mutation.
type Observer interface {
	Update()
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func()

func (f ObserverFunc) Update() { f() }

// Observers fans one notification out to several observers, in order.
type Observers []Observer

func (os Observers) Update() {
	for _, o := range os {
		if o != nil {
			o.Update()
		}
	}
}

// Config holds the non-generic queue settings. Start from DefaultConfig.
type Config struct {
	Name string

	// Every is the drain period. A timer is bound only when Every > 0 and
	// Hooks.Consume is set.
	Every time.Duration
	Order Order

	// MaxJoin caps merges per dequeue. <= 0 means unlimited.
	MaxJoin int

	// AutoStart runs the timer only while the queue holds items.
	AutoStart bool
	// ProcessAtOnce schedules a drain ImmediateDelay after an autostart
	// instead of waiting a whole period.
	ProcessAtOnce bool

	Clock clock.Clock
	// Registry receives the bound timer; nil means heartbeat.Default().
	Registry *heartbeat.Registry
	Logger   logx.Logger
}

// DefaultConfig returns a FIFO queue that autostarts and drains at once.
func DefaultConfig() Config {
	return Config{
		AutoStart:     true,
		ProcessAtOnce: true,
	}
}

// Hooks are the strategies a queue calls into. All are optional.
type Hooks[T any] struct {
	// Consume receives each dequeued item on the tick that popped it. A panic
	// propagates out of the tick and the item is lost unless Consume returned it.
	Consume func(item T)
	Join    JoinFunc[T]
	// Limiter is consulted before every ApplyNext.
	Limiter  ratelimit.Limiter
	Observer Observer
}

// Stats is a point-in-time view for diagnostics.
type Stats struct {
	Name  string
	Len   int
	Timer heartbeat.State

	Added      uint64
	Returned   uint64
	Dispatched uint64
	Joined     uint64
	Deferred   uint64
	Filtered   uint64
}
