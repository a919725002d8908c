package sync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sidkik/mirrorsync/pkg/errors"
)

type ackKey struct {
	fileID string
	index  int
}

type ackResult struct {
	success bool
	reason  string
	closed  bool
}

// AckWaiters tracks the chunks that are waiting for the peer to acknowledge
// them. Each waiter is resolved exactly once: by the matching ack, by its
// timeout, or by Close.
type AckWaiters struct {
	lock    sync.Mutex
	waiters map[ackKey]chan ackResult
	closed  bool
}

// NewAckWaiters creates an empty registry.
func NewAckWaiters() *AckWaiters {
	return &AckWaiters{waiters: map[ackKey]chan ackResult{}}
}

// PendingAck is a registered waiter for one chunk.
type PendingAck struct {
	owner  *AckWaiters
	key    ackKey
	result chan ackResult
}

// Register creates the waiter for a chunk. It must be called before the chunk
// is sent so that a fast ack can't arrive before anyone is waiting for it.
func (a *AckWaiters) Register(fileID string, index int) (*PendingAck, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.closed {
		return nil, errors.ErrConnectionClosed
	}

	key := ackKey{fileID, index}
	if prev, ok := a.waiters[key]; ok {
		prev <- ackResult{reason: "superseded"}
	}

	// Buffered so that resolving never blocks on the waiter.
	result := make(chan ackResult, 1)
	a.waiters[key] = result
	return &PendingAck{owner: a, key: key, result: result}, nil
}

// Resolve delivers an ack to its waiter. It returns false if nobody was
// waiting for it, for example because the wait already timed out.
func (a *AckWaiters) Resolve(fileID string, index int, success bool, reason string) bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	key := ackKey{fileID, index}
	result, ok := a.waiters[key]
	if !ok {
		return false
	}
	delete(a.waiters, key)
	result <- ackResult{success: success, reason: reason}
	return true
}

// Len returns the number of unresolved waiters.
func (a *AckWaiters) Len() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.waiters)
}

// Close resolves every waiter as failed because the connection closed, and
// refuses new registrations.
func (a *AckWaiters) Close() {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.closed = true
	for key, result := range a.waiters {
		result <- ackResult{closed: true}
		delete(a.waiters, key)
	}
}

// remove drops the waiter if it's still the registered one for its key.
func (a *AckWaiters) remove(p *PendingAck) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.waiters[p.key] == p.result {
		delete(a.waiters, p.key)
	}
}

// Cancel abandons the wait without resolving it.
func (p *PendingAck) Cancel() {
	p.owner.remove(p)
}

// Wait blocks until the chunk is acknowledged, the timeout passes, or ctx is
// cancelled. A negative acknowledgement is returned as a
// ChunkRejectedError.
func (p *PendingAck) Wait(ctx context.Context, clock clockwork.Clock, timeout time.Duration) error {
	timer := clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.result:
		switch {
		case res.closed:
			return errors.ErrConnectionClosed
		case !res.success:
			return errors.ChunkRejectedError{Index: p.key.index, Reason: res.reason}
		}
		return nil
	case <-timer.Chan():
		p.Cancel()
		return errors.ErrAckTimeout
	case <-ctx.Done():
		p.Cancel()
		return ctx.Err()
	}
}
