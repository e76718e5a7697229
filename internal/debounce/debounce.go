package debounce

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of calls into one trailing-edge invocation: the
// function runs once the calls have been quiet for the configured interval,
// and only the most recent function is kept. Owners must call Cancel on
// teardown so the pending timer cannot fire against freed state.
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	canceled bool
}

// New creates a debouncer with the given quiet interval.
func New(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Do schedules fn, replacing any pending invocation.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.canceled {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		if d.canceled {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel stops any pending invocation and disables the debouncer. Idempotent.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canceled = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
