package sync

import (
	"sync"
)

// incomingTransfer is the receiver's state for one chunked file.
type incomingTransfer struct {
	// announced is the path as sent in chunk_start.
	announced   string
	path        string
	totalChunks int
	totalSize   int64
	received    int

	// rejectReason is set when the transfer was refused at chunk_start.
	// Every chunk is then negatively acknowledged with it.
	rejectReason string
	warned       bool

	progress *progress
}

// Transfers tracks the chunked files being received, keyed by file ID.
type Transfers struct {
	lock   sync.Mutex
	states map[string]*incomingTransfer
}

// NewTransfers creates an empty tracker.
func NewTransfers() *Transfers {
	return &Transfers{states: map[string]*incomingTransfer{}}
}

// start tracks a new transfer. Earlier transfers of the same path are
// dropped, since the sender only restarts a file after giving up on the
// previous attempt. It returns the number of transfers dropped.
func (t *Transfers) start(fileID string, state *incomingTransfer) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	var dropped int
	for id, other := range t.states {
		if other.announced == state.announced {
			delete(t.states, id)
			dropped++
		}
	}
	t.states[fileID] = state
	return dropped
}

func (t *Transfers) get(fileID string) (*incomingTransfer, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	state, ok := t.states[fileID]
	return state, ok
}

// received increments the received count of a transfer and returns the new
// count. It returns false if the transfer is gone.
func (t *Transfers) received(fileID string) (int, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	state, ok := t.states[fileID]
	if !ok {
		return 0, false
	}
	state.received++
	return state.received, true
}

// markWarned returns true the first time it's called for a transfer.
func (t *Transfers) markWarned(fileID string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	state, ok := t.states[fileID]
	if !ok || state.warned {
		return false
	}
	state.warned = true
	return true
}

func (t *Transfers) finish(fileID string) (*incomingTransfer, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	state, ok := t.states[fileID]
	delete(t.states, fileID)
	return state, ok
}

// Len returns the number of transfers in progress.
func (t *Transfers) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.states)
}

// Clear drops every transfer.
func (t *Transfers) Clear() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.states = map[string]*incomingTransfer{}
}
