package dispatch

import (
	"sync"
	"time"

	"pacer/pkg/clock"
)

// Breaker opens after consecutive failures and refuses dequeues for a
// cooldown that doubles while failures continue. It is a ratelimit.Limiter.
type Breaker struct {
	trip     int
	base     time.Duration
	maxDelay time.Duration
	clock    clock.Clock

	mu        sync.Mutex
	fails     int
	openUntil time.Time
}

// NewBreaker returns a breaker tripping after trip failures. trip <= 0
// returns nil, which Allow treats as always closed.
func NewBreaker(trip int, cooldown time.Duration, c clock.Clock) *Breaker {
	if trip <= 0 {
		return nil
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	if c == nil {
		c = clock.System()
	}
	return &Breaker{trip: trip, base: cooldown, maxDelay: 32 * cooldown, clock: c}
}

func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.clock.Now().Before(b.openUntil)
}

// Record feeds one outcome into the breaker.
func (b *Breaker) Record(err error) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		return
	}
	b.fails++
	if b.fails < b.trip {
		return
	}
	d := b.base
	for i := b.trip; i < b.fails && d < b.maxDelay; i++ {
		d *= 2
	}
	b.openUntil = b.clock.Now().Add(min(d, b.maxDelay))
}

// Open reports whether the breaker currently refuses.
func (b *Breaker) Open() bool { return !b.Allow() }
