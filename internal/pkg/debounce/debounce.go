// Package debounce coalesces bursts of input into a single delayed call and
// tags asynchronous requests so that late responses can be recognised as stale.
package debounce

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a pending call scheduled by a Clock.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was still pending.
	Stop() bool
}

// Clock schedules delayed calls.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Debouncer delays a call until no new Trigger has arrived for the configured delay.
// A newer Trigger or a Cancel discards the pending call. Calls already running
// are never interrupted.
type Debouncer struct {
	clock Clock
	delay time.Duration

	mu    sync.Mutex
	timer Timer
	gen   uint64
}

// New creates a Debouncer. A nil clock means the real clock.
func New(delay time.Duration, clock Clock) *Debouncer {
	if clock == nil {
		clock = RealClock()
	}
	return &Debouncer{clock: clock, delay: delay}
}

// Trigger schedules fn after the quiet period, replacing any pending call.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A timer that lost the race with Stop must not run.
		if d.gen != gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Sequence issues monotonically increasing tickets. A response carrying a
// ticket older than the latest issued one is stale.
type Sequence struct {
	n atomic.Uint64
}

// Next issues a new ticket.
func (s *Sequence) Next() uint64 { return s.n.Add(1) }

// IsLatest reports whether ticket is the most recently issued one.
func (s *Sequence) IsLatest(ticket uint64) bool { return s.n.Load() == ticket }

// Invalidate makes every outstanding ticket stale.
func (s *Sequence) Invalidate() { s.n.Add(1) }
