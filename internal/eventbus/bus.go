package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the daemon.
const (
	TypeQueueChanged   = "queue.changed"
	TypeRequestDone    = "request.done"
	TypeConfigReloaded = "config.reloaded"
)

// Event is a small in-memory notification.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// QueueChanged is the Data of TypeQueueChanged.
type QueueChanged struct {
	Queue string
	Len   int
}

// RequestDone is the Data of TypeRequestDone.
type RequestDone struct {
	ID       string
	Queue    string
	URL      string
	Status   int
	Merged   int
	Attempts int
	Duration time.Duration
	Err      string
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives events of the given types, or of every type when
	// none are given. unsubscribe closes the channel.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *sub) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends are non-blocking, so holding the read lock is cheap and keeps
	// unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// Lener is anything with a length, typically a queue.
type Lener interface {
	Len() int
}

// QueueObserver returns an observer (Update method) that publishes
// TypeQueueChanged for the named queue.
func QueueObserver(b Bus, name string, q Lener) interface{ Update() } {
	return queueObserver{b: b, name: name, q: q}
}

type queueObserver struct {
	b    Bus
	name string
	q    Lener
}

func (o queueObserver) Update() {
	o.b.Publish(Event{Type: TypeQueueChanged, Data: QueueChanged{Queue: o.name, Len: o.q.Len()}})
}
