package sync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// LoopGuard remembers paths that were just written on behalf of the peer, so
// that the resulting local file system events aren't echoed back.
//
// The guard is time based. A slow file system may report the write after the
// window has passed, and an unrelated local edit within the window is
// dropped.
type LoopGuard struct {
	clock  clockwork.Clock
	window time.Duration

	lock      sync.Mutex
	deadlines map[string]time.Time
	cleanup   *Scheduler
	stopped   bool
}

// NewLoopGuard creates a guard that suppresses a path for window after it's
// marked.
func NewLoopGuard(clock clockwork.Clock, window time.Duration) *LoopGuard {
	return &LoopGuard{
		clock:     clock,
		window:    window,
		deadlines: map[string]time.Time{},
		cleanup:   NewScheduler(clock),
	}
}

// Mark suppresses events for path until the window passes. Marking a path
// that's already guarded extends the window.
func (g *LoopGuard) Mark(path string) {
	g.lock.Lock()
	if g.stopped {
		g.lock.Unlock()
		return
	}
	g.deadlines[path] = g.clock.Now().Add(g.window)
	g.lock.Unlock()

	g.cleanup.Schedule(path, g.window, func() {
		g.lock.Lock()
		defer g.lock.Unlock()
		if deadline, ok := g.deadlines[path]; ok && !g.clock.Now().Before(deadline) {
			delete(g.deadlines, path)
		}
	})
}

// Guarded returns whether events for path should currently be dropped.
func (g *LoopGuard) Guarded(path string) bool {
	g.lock.Lock()
	defer g.lock.Unlock()

	deadline, ok := g.deadlines[path]
	if !ok {
		return false
	}
	if !g.clock.Now().Before(deadline) {
		delete(g.deadlines, path)
		return false
	}
	return true
}

// Len returns the number of guarded paths.
func (g *LoopGuard) Len() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return len(g.deadlines)
}

// Stop forgets every guarded path and stops the cleanup timers. Paths marked
// afterwards are ignored.
func (g *LoopGuard) Stop() {
	g.cleanup.Stop()

	g.lock.Lock()
	defer g.lock.Unlock()
	g.stopped = true
	g.deadlines = map[string]time.Time{}
}
