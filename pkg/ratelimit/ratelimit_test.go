package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestMaxActive(t *testing.T) {
	t.Parallel()
	active := 0
	l := MaxActive(CounterFunc(func() int { return active }), 2)
	for _, tc := range []struct {
		active int
		want   bool
	}{
		{0, true},
		{1, true},
		{2, false},
		{5, false},
	} {
		active = tc.active
		if got := l.Allow(); got != tc.want {
			t.Fatalf("active=%d Allow() = %v, want %v", tc.active, got, tc.want)
		}
	}
}

func TestMaxActiveDefault(t *testing.T) {
	t.Parallel()
	active := DefaultMaxActive - 1
	l := MaxActive(CounterFunc(func() int { return active }), 0)
	if !l.Allow() {
		t.Fatal("expected allow below default")
	}
	active = DefaultMaxActive
	if l.Allow() {
		t.Fatal("expected refusal at default")
	}
}

func TestTokenBucketBurst(t *testing.T) {
	t.Parallel()
	l := TokenBucket(0.001, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("burst token %d refused", i)
		}
	}
	if l.Allow() {
		t.Fatal("bucket should be empty after burst")
	}
}

func TestWindows(t *testing.T) {
	t.Parallel()
	l, err := Windows(map[time.Duration]int{time.Hour: 2})
	if err != nil {
		t.Fatalf("Windows: %v", err)
	}
	if !l.Allow() || !l.Allow() {
		t.Fatal("first two events should be allowed")
	}
	if l.Allow() {
		t.Fatal("third event within the window should be refused")
	}
}

func TestWindowsRejectsIrrelevantRates(t *testing.T) {
	t.Parallel()
	cases := []map[time.Duration]int{
		nil,
		{time.Second: 0},
		{time.Second: 10, time.Minute: 5},  // longer window allows fewer events
		{time.Second: 1, time.Minute: 120}, // longer window allows a higher rate
	}
	for _, rates := range cases {
		if _, err := Windows(rates); !errors.Is(err, ErrInvalidWindows) {
			t.Fatalf("Windows(%v) err = %v, want ErrInvalidWindows", rates, err)
		}
	}
}

func TestAllShortCircuits(t *testing.T) {
	t.Parallel()
	charged := 0
	counting := Func(func() bool { charged++; return true })

	if !All(nil, counting).Allow() {
		t.Fatal("single limiter should pass through")
	}
	if charged != 1 {
		t.Fatalf("charged = %d, want 1", charged)
	}

	l := All(Func(func() bool { return false }), counting)
	if l.Allow() {
		t.Fatal("expected refusal")
	}
	if charged != 1 {
		t.Fatal("limiter after a refusal was charged")
	}
	if !All().Allow() {
		t.Fatal("empty All should allow")
	}
}
