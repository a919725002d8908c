package sync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs at most one pending callback per key. Scheduling a key that
// already has a pending callback cancels the old one.
type Scheduler struct {
	clock clockwork.Clock

	lock    sync.Mutex
	timers  map[string]*scheduled
	stopped bool
}

type scheduled struct {
	timer clockwork.Timer
}

// NewScheduler creates a scheduler driven by clock.
func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{clock: clock, timers: map[string]*scheduled{}}
}

// Schedule runs fn after d, unless key is rescheduled or cancelled first.
// It returns false if the scheduler has been stopped.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stopped {
		return false
	}

	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}

	entry := &scheduled{}
	entry.timer = s.clock.AfterFunc(d, func() {
		s.lock.Lock()
		current := s.timers[key] == entry
		if current {
			delete(s.timers, key)
		}
		s.lock.Unlock()

		// A timer that was replaced may still fire if Stop lost the race.
		if current {
			fn()
		}
	})
	s.timers[key] = entry
	return true
}

// Cancel drops the pending callback for key, if any.
func (s *Scheduler) Cancel(key string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, ok := s.timers[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.timers, key)
	return true
}

// Len returns the number of pending callbacks.
func (s *Scheduler) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.timers)
}

// Stop cancels every pending callback. Later calls to Schedule are ignored.
func (s *Scheduler) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.stopped = true
	for key, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, key)
	}
}
