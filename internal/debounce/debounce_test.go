package debounce_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/Finding-Finance-Association/website-sub000/internal/debounce"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	clock := debounce.NewFakeClock(start)
	d := debounce.New(clock)
	key := debounce.Key{ID: "course-1", Class: "input"}

	var calls int
	var last int
	for i := 1; i <= 10; i++ {
		i := i
		d.Trigger(key, 2*time.Second, func() {
			calls++
			last = i
		})
		clock.Advance(100 * time.Millisecond)
	}

	if d.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", d.Pending())
	}
	if clock.Pending() != 1 {
		t.Fatalf("clock.Pending() = %d, want 1 (prior timers cancelled)", clock.Pending())
	}

	clock.Advance(2 * time.Second)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if last != 10 {
		t.Errorf("last = %d, want 10", last)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() after fire = %d, want 0", d.Pending())
	}
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	clock := debounce.NewFakeClock(start)
	d := debounce.New(clock)

	var fired []string
	d.Trigger(debounce.Key{ID: "c1", Class: "completion"}, time.Second, func() { fired = append(fired, "c1/completion") })
	d.Trigger(debounce.Key{ID: "c1", Class: "input"}, 2*time.Second, func() { fired = append(fired, "c1/input") })
	d.Trigger(debounce.Key{ID: "c2", Class: "completion"}, time.Second, func() { fired = append(fired, "c2/completion") })

	clock.Advance(time.Second)
	if len(fired) != 2 {
		t.Fatalf("fired after 1s = %v, want 2 completion calls", fired)
	}

	clock.Advance(time.Second)
	if len(fired) != 3 || fired[2] != "c1/input" {
		t.Errorf("fired after 2s = %v, want c1/input last", fired)
	}
}

func TestDebouncer_CancelIDAndStop(t *testing.T) {
	clock := debounce.NewFakeClock(start)
	d := debounce.New(clock)

	var calls int
	inc := func() { calls++ }
	d.Trigger(debounce.Key{ID: "c1", Class: "completion"}, time.Second, inc)
	d.Trigger(debounce.Key{ID: "c1", Class: "input"}, time.Second, inc)
	d.Trigger(debounce.Key{ID: "c2", Class: "input"}, time.Second, inc)

	if n := d.CancelID("c1"); n != 2 {
		t.Errorf("CancelID() = %d, want 2", n)
	}
	d.Stop()
	clock.Advance(time.Minute)

	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", d.Pending())
	}
}

func TestDebouncer_RealClock(t *testing.T) {
	d := debounce.New(nil)
	key := debounce.Key{ID: "c1", Class: "completion"}

	var calls atomic.Int32
	done := make(chan struct{})
	for range 5 {
		d.Trigger(key, 20*time.Millisecond, func() {
			calls.Add(1)
			close(done)
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced call never fired")
	}

	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFakeClock_NowAdvances(t *testing.T) {
	clock := debounce.NewFakeClock(start)
	clock.Advance(1500 * time.Millisecond)
	if got := clock.Now().Sub(start); got != 1500*time.Millisecond {
		t.Errorf("elapsed = %v, want 1.5s", got)
	}
}
