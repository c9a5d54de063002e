// Package debounce coalesces bursts of calls into one delayed call per key.
package debounce

import (
	"sync"
	"time"
)

// Key identifies an independently debounced stream of calls.
type Key struct {
	ID    string
	Class string
}

// Debouncer runs at most one pending callback per Key. Triggering a key
// again before its delay elapses cancels the pending callback and re-arms
// the delay.
type Debouncer struct {
	clock  Clock
	mu     sync.Mutex
	timers map[Key]*entry
	seq    uint64
}

type entry struct {
	timer Timer
	seq   uint64
}

// New creates a Debouncer on clock. A nil clock uses RealClock.
func New(clock Clock) *Debouncer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Debouncer{
		clock:  clock,
		timers: make(map[Key]*entry),
	}
}

// Trigger schedules fn to run after delay, replacing any pending call for key.
func (d *Debouncer) Trigger(key Key, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.timers[key]; ok {
		prev.timer.Stop()
	}

	d.seq++
	seq := d.seq
	e := &entry{seq: seq}
	e.timer = d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		cur, ok := d.timers[key]
		if !ok || cur.seq != seq {
			// Replaced or cancelled after the timer had already fired.
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()

		fn()
	})
	d.timers[key] = e
}

// CancelID drops every pending call whose key has the given ID.
func (d *Debouncer) CancelID(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for k, e := range d.timers {
		if k.ID == id {
			e.timer.Stop()
			delete(d.timers, k)
			n++
		}
	}
	return n
}

// Stop cancels every pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, e := range d.timers {
		e.timer.Stop()
		delete(d.timers, k)
	}
}

// Pending returns the number of keys with a pending call.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
