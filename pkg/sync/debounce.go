package sync

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Debouncer collapses bursts of events for the same path. Only the last
// event in a burst acts, once the path has been quiet for the window.
type Debouncer struct {
	window time.Duration
	sched  *Scheduler
}

// NewDebouncer creates a Debouncer with the given quiet window.
func NewDebouncer(clock clockwork.Clock, window time.Duration) *Debouncer {
	return &Debouncer{window: window, sched: NewScheduler(clock)}
}

// Trigger records an event for path. fn runs after the window unless another
// event for path arrives first, in which case fn is dropped in favor of the
// newer one.
func (d *Debouncer) Trigger(path string, fn func()) {
	d.sched.Schedule(path, d.window, fn)
}

// Pending returns the number of paths waiting for their window to pass.
func (d *Debouncer) Pending() int {
	return d.sched.Len()
}

// Stop drops all pending events.
func (d *Debouncer) Stop() {
	d.sched.Stop()
}
