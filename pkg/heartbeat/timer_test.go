package heartbeat

import (
	"testing"
	"time"

	"pacer/pkg/clock"
)

func newTestTimer(t *testing.T, every time.Duration, opts ...Option) (*Timer, *clock.Fake, *int) {
	t.Helper()
	c := clock.NewFake(time.Time{})
	calls := new(int)
	opts = append([]Option{WithClock(c), WithRegistry(NewRegistry())}, opts...)
	tm := New(func() { *calls++ }, every, opts...)
	return tm, c, calls
}

func TestTimerRepeatingTicks(t *testing.T) {
	t.Parallel()
	tm, c, calls := newTestTimer(t, 100*time.Millisecond)

	if tm.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", tm.State())
	}
	tm.Start()
	tm.Start() // idempotent
	if tm.State() != StateRepeating {
		t.Fatalf("state = %v, want repeating", tm.State())
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want exactly one schedule", c.Pending())
	}

	c.Advance(300 * time.Millisecond)
	if *calls != 3 {
		t.Fatalf("calls = %d, want 3", *calls)
	}

	tm.Stop()
	tm.Stop()
	c.Advance(time.Second)
	if *calls != 3 {
		t.Fatalf("ticked after stop: %d", *calls)
	}
	if tm.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", tm.State())
	}
}

func TestTimerSingleShotFiresOncePerStart(t *testing.T) {
	t.Parallel()
	tm, c, calls := newTestTimer(t, 50*time.Millisecond, SingleShot())

	tm.Start()
	if tm.State() != StateSinglePending {
		t.Fatalf("state = %v, want single-pending", tm.State())
	}
	c.Advance(time.Second)
	if *calls != 1 {
		t.Fatalf("calls = %d, want 1", *calls)
	}
	if tm.State() != StateStopped {
		t.Fatalf("state after firing = %v, want stopped", tm.State())
	}

	tm.Start()
	c.Advance(time.Second)
	if *calls != 2 {
		t.Fatalf("calls after restart = %d, want 2", *calls)
	}
}

func TestTimerBeatNow(t *testing.T) {
	t.Parallel()

	t.Run("repeating keeps running", func(t *testing.T) {
		tm, c, calls := newTestTimer(t, 100*time.Millisecond)
		tm.Start()
		tm.BeatNow()
		if *calls != 1 {
			t.Fatalf("calls = %d, want 1", *calls)
		}
		if !tm.Running() {
			t.Fatal("repeating timer stopped by BeatNow")
		}
		c.Advance(100 * time.Millisecond)
		if *calls != 2 {
			t.Fatalf("calls = %d, want 2", *calls)
		}
	})

	t.Run("single shot is used up", func(t *testing.T) {
		tm, c, calls := newTestTimer(t, 100*time.Millisecond, SingleShot())
		tm.Start()
		tm.BeatNow()
		if *calls != 1 {
			t.Fatalf("calls = %d, want 1", *calls)
		}
		if tm.Running() {
			t.Fatal("single-shot timer still scheduled after BeatNow")
		}
		c.Advance(time.Second)
		if *calls != 1 {
			t.Fatalf("pending shot fired after BeatNow: calls=%d", *calls)
		}
	})
}

// Pause is tracked separately from Stop: Unpause resumes a paused timer but
// never a stopped one.
func TestTimerPauseUnpause(t *testing.T) {
	t.Parallel()
	tm, c, calls := newTestTimer(t, 100*time.Millisecond)

	tm.Start()
	c.Advance(100 * time.Millisecond)
	tm.Pause()
	if tm.State() != StatePaused || !tm.Paused() || tm.Running() {
		t.Fatalf("state after pause = %v", tm.State())
	}
	c.Advance(time.Second)
	if *calls != 1 {
		t.Fatalf("ticked while paused: %d", *calls)
	}

	tm.Unpause()
	if tm.State() != StateRepeating {
		t.Fatalf("state after unpause = %v, want repeating", tm.State())
	}
	c.Advance(100 * time.Millisecond)
	if *calls != 2 {
		t.Fatalf("calls after unpause = %d, want 2", *calls)
	}

	tm.Stop()
	tm.Unpause()
	if tm.Running() {
		t.Fatal("unpause restarted a stopped timer")
	}
}

func TestTimerPauseWhileStoppedBlocksUntilUnpause(t *testing.T) {
	t.Parallel()
	tm, _, _ := newTestTimer(t, 100*time.Millisecond)
	tm.Pause()
	if tm.State() != StatePaused {
		t.Fatalf("state = %v, want paused", tm.State())
	}
	tm.Start()
	if tm.Paused() || !tm.Running() {
		t.Fatal("start should clear pause and schedule")
	}
}

func TestTimerSetIntervalRestartsRunningTimer(t *testing.T) {
	t.Parallel()
	tm, c, calls := newTestTimer(t, 100*time.Millisecond)

	tm.SetInterval(10 * time.Millisecond)
	if tm.Running() {
		t.Fatal("SetInterval started a stopped timer")
	}
	if tm.Interval() != 10*time.Millisecond {
		t.Fatalf("interval = %v", tm.Interval())
	}

	tm.Start()
	c.Advance(50 * time.Millisecond)
	tm.SetInterval(200 * time.Millisecond)
	if !tm.Running() || c.Pending() != 1 {
		t.Fatalf("running=%v pending=%d after SetInterval", tm.Running(), c.Pending())
	}
	before := *calls
	c.Advance(199 * time.Millisecond)
	if *calls != before {
		t.Fatalf("old period still active: %d -> %d", before, *calls)
	}
	c.Advance(time.Millisecond)
	if *calls != before+1 {
		t.Fatalf("new period not applied: %d", *calls)
	}
}

func TestTimerSetFunctionAndReset(t *testing.T) {
	t.Parallel()
	tm, c, calls := newTestTimer(t, 100*time.Millisecond)

	other := 0
	tm.Start()
	c.Advance(60 * time.Millisecond)
	tm.SetFunction(func() { other++ })
	tm.Reset()
	c.Advance(60 * time.Millisecond)
	if other != 0 {
		t.Fatal("reset did not restart the period")
	}
	c.Advance(40 * time.Millisecond)
	if other != 1 || *calls != 0 {
		t.Fatalf("other=%d calls=%d, want 1/0", other, *calls)
	}
}

func TestTimerCallbackMayStopItself(t *testing.T) {
	t.Parallel()
	c := clock.NewFake(time.Time{})
	calls := 0
	var tm *Timer
	tm = New(func() {
		calls++
		tm.Stop()
	}, 10*time.Millisecond, WithClock(c), WithRegistry(nil))
	tm.Start()
	c.Advance(time.Second)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
