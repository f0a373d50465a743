package heartbeat

import (
	"sort"
	"sync"
)

// Registry tracks live timers for bulk control.
//
// Registration hands the timer a removal token which Timer.Close invokes,
// so long-lived processes creating many short-lived timers do not accumulate
// dead entries.
type Registry struct {
	mu     sync.Mutex
	seq    uint64
	timers map[uint64]*Timer
}

func NewRegistry() *Registry {
	return &Registry{timers: map[uint64]*Timer{}}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used when no WithRegistry option is given.
func Default() *Registry { return defaultRegistry }

func (r *Registry) add(t *Timer) (remove func()) {
	r.mu.Lock()
	r.seq++
	id := r.seq
	r.timers[id] = t
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.timers, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Each calls fn for every registered timer, in creation order.
// fn runs against a snapshot, without the registry lock held.
func (r *Registry) Each(fn func(t *Timer)) {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.timers))
	for id := range r.timers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	snap := make([]*Timer, 0, len(ids))
	for _, id := range ids {
		snap = append(snap, r.timers[id])
	}
	r.mu.Unlock()

	for _, t := range snap {
		fn(t)
	}
}

func (r *Registry) PauseAll()   { r.Each((*Timer).Pause) }
func (r *Registry) UnpauseAll() { r.Each((*Timer).Unpause) }
func (r *Registry) StopAll()    { r.Each((*Timer).Stop) }
func (r *Registry) StartAll()   { r.Each((*Timer).Start) }

// Bulk helpers on the default registry.

func PauseAll()   { defaultRegistry.PauseAll() }
func UnpauseAll() { defaultRegistry.UnpauseAll() }
func StopAll()    { defaultRegistry.StopAll() }
func StartAll()   { defaultRegistry.StartAll() }
