package swap

import (
	"sync"
	"time"
)

// Debouncer is a single-slot delayed task. Scheduling replaces any pending
// task, so only the most recent one can ever run.
type Debouncer struct {
	clock Clock
	delay time.Duration

	mu    sync.Mutex
	timer Timer
	gen   uint64
}

// NewDebouncer creates a Debouncer that waits delay after the last Schedule.
func NewDebouncer(clock Clock, delay time.Duration) *Debouncer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Debouncer{clock: clock, delay: delay}
}

// Schedule cancels the pending task, if any, and arranges for f to run after
// the quiet period. f receives the generation it was scheduled under; Current
// reports whether that generation is still the live one.
func (d *Debouncer) Schedule(f func(gen uint64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() { f(gen) })
}

// Current reports whether gen is the most recent scheduling. A task that
// lost a Stop race checks this before acting.
func (d *Debouncer) Current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen == gen && d.timer != nil
}

// Cancel drops the pending task.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Done marks gen as fired so it no longer counts as pending.
func (d *Debouncer) Done(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen {
		d.timer = nil
	}
}

// Pending reports whether a task is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
