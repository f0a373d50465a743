// Package feeder runs cron-scheduled producers that push bursts of update
// requests into queues, the way a busy UI would.
package feeder

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"pacer/internal/dispatch"
	logx "pacer/pkg/logx"
)

// Sink receives produced requests, typically a *queue.Queue[*dispatch.Request].
type Sink interface {
	Add(r *dispatch.Request) *dispatch.Request
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r *dispatch.Request)

func (f SinkFunc) Add(r *dispatch.Request) *dispatch.Request {
	f(r)
	return r
}

// Spec describes one producer.
type Spec struct {
	Name     string
	Schedule string
	URL      string
	Method   string
	// Count requests per run, spread round-robin over Keys distinct URLs
	// (a "key" query parameter). Keys <= 1 sends every request to URL.
	Count int
	Keys  int
}

// Service owns the cron scheduler for every feeder.
type Service struct {
	c   *cron.Cron
	log logx.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	runs    map[string]*atomic.Uint64
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cl := cronLogger{log: log}
	return &Service{
		c:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:     log,
		entries: map[string]cron.EntryID{},
		runs:    map[string]*atomic.Uint64{},
	}
}

// Add registers a producer feeding sink.
func (s *Service) Add(spec Spec, sink Sink) error {
	if _, err := url.Parse(spec.URL); err != nil {
		return fmt.Errorf("feeder %s: %w", spec.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[spec.Name]; dup {
		return fmt.Errorf("feeder %s: already registered", spec.Name)
	}
	runs := new(atomic.Uint64)
	id, err := s.c.AddFunc(spec.Schedule, func() {
		runs.Add(1)
		n := Produce(spec, sink)
		s.log.Debug("feeder run", logx.String("feeder", spec.Name), logx.Int("requests", n))
	})
	if err != nil {
		return fmt.Errorf("feeder %s: schedule %q: %w", spec.Name, spec.Schedule, err)
	}
	s.entries[spec.Name] = id
	s.runs[spec.Name] = runs
	return nil
}

// Runs reports how many times the named feeder fired.
func (s *Service) Runs(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.runs[name]; r != nil {
		return r.Load()
	}
	return 0
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Service) Start() {
	s.c.Start()
	s.log.Info("feeders started", logx.Int("count", s.Len()))
}

// Stop halts the schedule and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) error {
	select {
	case <-s.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Produce adds one run's worth of requests to sink and reports how many.
func Produce(spec Spec, sink Sink) int {
	for i := 0; i < spec.Count; i++ {
		sink.Add(dispatch.NewRequest(spec.Method, keyedURL(spec.URL, i, spec.Keys)))
	}
	return max(spec.Count, 0)
}

func keyedURL(raw string, i, keys int) string {
	if keys <= 1 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("key", strconv.Itoa(i%keys))
	u.RawQuery = q.Encode()
	return u.String()
}

// cronLogger routes cron's own logging into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	fs := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fs = append(fs, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fs
}
