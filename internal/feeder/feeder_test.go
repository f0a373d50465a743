package feeder

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pacer/internal/dispatch"
	logx "pacer/pkg/logx"
)

type collect struct {
	mu   sync.Mutex
	reqs []*dispatch.Request
}

func (c *collect) Add(r *dispatch.Request) *dispatch.Request {
	c.mu.Lock()
	c.reqs = append(c.reqs, r)
	c.mu.Unlock()
	return r
}

func (c *collect) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func TestProduceSpreadsKeys(t *testing.T) {
	t.Parallel()
	var c collect
	n := Produce(Spec{URL: "http://h/update?x=1", Method: "post", Count: 5, Keys: 2}, &c)
	if n != 5 || c.len() != 5 {
		t.Fatalf("produced %d, collected %d", n, c.len())
	}
	want := []string{"key=0", "key=1", "key=0", "key=1", "key=0"}
	for i, r := range c.reqs {
		if !strings.Contains(r.URL, want[i]) || !strings.Contains(r.URL, "x=1") {
			t.Fatalf("req %d url = %s", i, r.URL)
		}
		if r.Method != "POST" {
			t.Fatalf("method = %s", r.Method)
		}
	}
	if c.reqs[0].Key() != c.reqs[2].Key() || c.reqs[0].Key() == c.reqs[1].Key() {
		t.Fatalf("same key should map to the same join key")
	}
}

func TestProduceSingleKey(t *testing.T) {
	t.Parallel()
	var got []string
	Produce(Spec{URL: "http://h/u", Count: 2}, SinkFunc(func(r *dispatch.Request) { got = append(got, r.URL) }))
	if len(got) != 2 || got[0] != "http://h/u" || got[1] != "http://h/u" {
		t.Fatalf("urls = %v", got)
	}
}

func TestServiceAddValidates(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	var c collect
	if err := s.Add(Spec{Name: "a", Schedule: "@every 1h", URL: "http://h", Count: 1}, &c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(Spec{Name: "a", Schedule: "@every 1h", URL: "http://h", Count: 1}, &c); err == nil {
		t.Fatalf("duplicate name accepted")
	}
	if err := s.Add(Spec{Name: "b", Schedule: "every hour", URL: "http://h", Count: 1}, &c); err == nil {
		t.Fatalf("bad schedule accepted")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestServiceRunsOnSchedule(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	var c collect
	if err := s.Add(Spec{Name: "tick", Schedule: "@every 1s", URL: "http://h", Count: 3}, &c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	deadline := time.Now().Add(5 * time.Second)
	for c.len() < 3 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.len() < 3 || s.Runs("tick") < 1 {
		t.Fatalf("collected %d over %d runs", c.len(), s.Runs("tick"))
	}
}
