package sync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestDebouncerCollapsesBursts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	debouncer := NewDebouncer(clock, 100*time.Millisecond)

	var first, last, other int32
	debouncer.Trigger("a.txt", func() { atomic.AddInt32(&first, 1) })
	clock.Advance(50 * time.Millisecond)
	debouncer.Trigger("a.txt", func() { atomic.AddInt32(&last, 1) })
	debouncer.Trigger("b.txt", func() { atomic.AddInt32(&other, 1) })
	assert.Equal(t, 2, debouncer.Pending())

	// The first event's window has passed, but it was replaced.
	clock.Advance(60 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, 2, debouncer.Pending())

	clock.Advance(40 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&other) == 1 && atomic.LoadInt32(&last) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, 0, debouncer.Pending())
}

func TestDebouncerStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	debouncer := NewDebouncer(clock, 100*time.Millisecond)

	var fired int32
	debouncer.Trigger("a.txt", func() { atomic.AddInt32(&fired, 1) })
	debouncer.Stop()
	assert.Equal(t, 0, debouncer.Pending())

	// Triggers after Stop are dropped.
	debouncer.Trigger("b.txt", func() { atomic.AddInt32(&fired, 1) })
	assert.Equal(t, 0, debouncer.Pending())

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestSchedulerCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sched := NewScheduler(clock)

	var fired int32
	assert.True(t, sched.Schedule("a", time.Second, func() { atomic.AddInt32(&fired, 1) }))
	assert.True(t, sched.Cancel("a"))
	assert.False(t, sched.Cancel("a"))

	clock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	assert.Equal(t, 0, sched.Len())
}

func TestLoopGuard(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewLoopGuard(clock, 2*time.Second)

	assert.False(t, guard.Guarded("a.txt"))

	guard.Mark("a.txt")
	assert.True(t, guard.Guarded("a.txt"))
	assert.False(t, guard.Guarded("b.txt"))

	clock.Advance(1999 * time.Millisecond)
	assert.True(t, guard.Guarded("a.txt"))

	// Marking again extends the window.
	guard.Mark("a.txt")
	clock.Advance(time.Second)
	assert.True(t, guard.Guarded("a.txt"))

	clock.Advance(time.Second)
	assert.False(t, guard.Guarded("a.txt"))

	// Expired entries are cleaned up even if they're never checked again.
	guard.Mark("b.txt")
	clock.Advance(2 * time.Second)
	assert.Eventually(t, func() bool {
		return guard.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestLoopGuardStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewLoopGuard(clock, 2*time.Second)

	guard.Mark("a.txt")
	guard.Stop()
	assert.Equal(t, 0, guard.Len())
	assert.False(t, guard.Guarded("a.txt"))

	guard.Mark("b.txt")
	assert.Equal(t, 0, guard.Len())
}
