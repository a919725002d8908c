package sync

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Protocol defaults.
const (
	// ChunkSize is the size of one chunk of base64 text. Files whose encoded
	// contents are larger than this are sent in chunks.
	ChunkSize = 256 * 1024

	// AckTimeout is how long the sender waits for each chunk's ack.
	AckTimeout = 5 * time.Second

	// MaxRetries is how many times a failed chunked transfer is restarted
	// before the file is given up on.
	MaxRetries = 3

	// RetryDelay is the pause before each retry.
	RetryDelay = time.Second

	// DebounceWindow is how long a path must be quiet before its latest
	// change is acted on.
	DebounceWindow = 100 * time.Millisecond

	// LoopGuardWindow is how long local events for a path are dropped after
	// the path was written on behalf of the peer.
	LoopGuardWindow = 2 * time.Second
)

// Options tunes a Session. Zero fields take the defaults above.
type Options struct {
	ChunkSize       int
	AckTimeout      time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	DebounceWindow  time.Duration
	LoopGuardWindow time.Duration

	// Clock drives every timer in the session.
	Clock clockwork.Clock
}

func (opts Options) withDefaults() Options {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = ChunkSize
	}

	// Chunks are encoded independently, so they must cover a whole number of
	// base64 quanta to match slices of the fully encoded file.
	opts.ChunkSize -= opts.ChunkSize % 4
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 4
	}

	if opts.AckTimeout <= 0 {
		opts.AckTimeout = AckTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = RetryDelay
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DebounceWindow
	}
	if opts.LoopGuardWindow <= 0 {
		opts.LoopGuardWindow = LoopGuardWindow
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return opts
}

// rawChunkSize is the number of file bytes that encode to one chunk.
func (opts Options) rawChunkSize() int {
	return opts.ChunkSize / 4 * 3
}
