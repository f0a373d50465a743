// Package activity renders a progress indicator over a pipeline of queues and
// the operations they have in flight.
package activity

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "pacer/pkg/logx"
	"pacer/pkg/queue"
	"pacer/pkg/ratelimit"
)

// Source is a monitored queue.
type Source interface {
	Len() int
}

type observable interface {
	SetObserver(queue.Observer)
}

// Progress is one rendering of the monitor.
type Progress struct {
	Active int
	// Queued is the weighted queue total; see Monitor.Update.
	Queued      int
	Outstanding int
	Peak        int
	// Percent is meaningful only when Peak > 1.
	Percent int
	Busy    bool
}

// Idle reports that nothing is queued or in flight.
func (p Progress) Idle() bool { return p.Outstanding == 0 }

func (p Progress) String() string {
	noun := "updates"
	if p.Outstanding == 1 {
		noun = "update"
	}
	return fmt.Sprintf("%d%% / %d %s waiting", p.Percent, p.Outstanding, noun)
}

type Renderer interface {
	Render(Progress)
}

type RendererFunc func(Progress)

func (f RendererFunc) Render(p Progress) { f(p) }

// Monitor recomputes progress whenever a monitored queue changes.
type Monitor struct {
	active ratelimit.Counter
	r      Renderer
	queues []Source

	mu   sync.Mutex
	peak int
	last Progress
}

// New returns a monitor over queues, listed in pipeline order (or slowest
// first when they are independent). It becomes the observer of every queue
// that accepts one. active may be nil.
func New(active ratelimit.Counter, r Renderer, queues ...Source) *Monitor {
	m := &Monitor{active: active, r: r, queues: queues}
	for _, q := range queues {
		if o, ok := q.(observable); ok {
			o.SetObserver(m)
		}
	}
	return m
}

// Update recomputes and renders progress.
//
// Earlier queues weigh more (queue i of n counts n-i per item) so a job
// moving to the next queue still advances the percentage.
func (m *Monitor) Update() {
	p := Progress{}
	if m.active != nil {
		p.Active = m.active.Active()
	}
	n := len(m.queues)
	for i, q := range m.queues {
		p.Queued += q.Len() * (n - i)
	}
	p.Outstanding = p.Active + p.Queued
	p.Busy = p.Active > 0

	m.mu.Lock()
	if p.Outstanding > m.peak {
		m.peak = p.Outstanding
	}
	if p.Outstanding == 0 {
		m.peak = 0
	}
	p.Peak = m.peak
	if m.peak > 1 {
		p.Percent = int(math.Round(float64(m.peak-p.Outstanding) * 100 / float64(m.peak)))
	}
	m.last = p
	m.mu.Unlock()

	if m.r != nil {
		m.r.Render(p)
	}
}

// Last returns the most recent progress.
func (m *Monitor) Last() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// TextBar writes one line per update: a bar of the given width while a batch
// is running, then a busy marker ('*' while operations are in flight).
func TextBar(w io.Writer, width int) Renderer {
	if width <= 0 {
		width = 20
	}
	return RendererFunc(func(p Progress) {
		var b strings.Builder
		if p.Peak > 1 {
			filled := p.Percent * width / 100
			b.WriteByte('[')
			b.WriteString(strings.Repeat("#", filled))
			b.WriteString(strings.Repeat("-", width-filled))
			b.WriteString("] ")
			b.WriteString(p.String())
			b.WriteByte(' ')
		}
		if p.Busy {
			b.WriteByte('*')
		} else {
			b.WriteByte('.')
		}
		b.WriteByte('\n')
		_, _ = io.WriteString(w, b.String())
	})
}

// LogRenderer logs progress at most once per interval, plus once whenever the
// pipeline becomes idle.
func LogRenderer(log logx.Logger, every time.Duration) Renderer {
	lim := rate.NewLimiter(rate.Every(every), 1)
	var mu sync.Mutex
	wasIdle := true
	return RendererFunc(func(p Progress) {
		mu.Lock()
		idleEdge := p.Idle() && !wasIdle
		wasIdle = p.Idle()
		mu.Unlock()

		if idleEdge {
			log.Info("pipeline idle")
			return
		}
		if p.Idle() || !lim.Allow() {
			return
		}
		log.Info("pipeline progress",
			logx.Int("active", p.Active),
			logx.Int("queued", p.Queued),
			logx.Int("outstanding", p.Outstanding),
			logx.Int("percent", p.Percent),
		)
	})
}
