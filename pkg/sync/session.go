package sync

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/proto"
	"github.com/sidkik/mirrorsync/pkg/transport"
)

// HandlerFunc handles one inbound message. Returned errors are logged as
// protocol errors and never end the session.
type HandlerFunc func(msg transport.Message) error

// Session is one live connection between a server and a client, seen from
// either end. It owns every piece of per-connection state, and Close tears
// all of it down.
type Session struct {
	conn     transport.Conn
	fs       afero.Fs
	opts     Options
	clock    clockwork.Clock
	policy   *Policy
	reporter Reporter

	acks      *AckWaiters
	transfers *Transfers
	guard     *LoopGuard
	debouncer *Debouncer

	// sendLock serializes outbound file transfers.
	sendLock sync.Mutex

	// inboundPaused drops remote file changes, e.g. while this side is
	// uploading its own tree.
	inboundPaused int32

	handlersLock sync.RWMutex
	handlers     map[string]HandlerFunc

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	onClose   []func()
}

// NewSession creates a session that mirrors fs over conn. fs should be rooted
// at the synced directory, e.g. with afero.NewBasePathFs.
func NewSession(conn transport.Conn, fs afero.Fs, policy *Policy, reporter Reporter,
	opts Options) *Session {

	opts = opts.withDefaults()
	if reporter == nil {
		reporter = LogReporter{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:      conn,
		fs:        fs,
		opts:      opts,
		clock:     opts.Clock,
		policy:    policy,
		reporter:  reporter,
		acks:      NewAckWaiters(),
		transfers: NewTransfers(),
		guard:     NewLoopGuard(opts.Clock, opts.LoopGuardWindow),
		debouncer: NewDebouncer(opts.Clock, opts.DebounceWindow),
		handlers:  map[string]HandlerFunc{},
		ctx:       ctx,
		cancel:    cancel,
	}

	s.Handle(proto.EventUpdate, s.handleUpdate)
	s.Handle(proto.EventCreateDir, s.handleCreateDir)
	s.Handle(proto.EventDelete, s.handleDelete)
	s.Handle(proto.EventChunkStart, s.handleChunkStart)
	s.Handle(proto.EventChunkData, s.handleChunkData)
	s.Handle(proto.EventChunkComplete, s.handleChunkComplete)
	s.Handle(proto.EventChunkAck, s.handleChunkAck)
	return s
}

// Handle registers the handler for an event, replacing any previous one.
func (s *Session) Handle(event string, fn HandlerFunc) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.handlers[event] = fn
}

// Run reads and dispatches messages until the connection closes or ctx is
// cancelled. Messages are handled in the order they arrive. The session is
// closed when Run returns.
func (s *Session) Run(ctx context.Context) {
	defer s.Close()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.ctx.Done():
		}
	}()

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if errors.Is(err, errors.ErrConnectionClosed) {
				return
			}
			log.WithError(err).Warn("Dropping malformed message")
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg transport.Message) {
	s.handlersLock.RLock()
	handler, ok := s.handlers[msg.Event]
	s.handlersLock.RUnlock()

	if !ok {
		log.WithField("event", msg.Event).Debug("Ignoring unknown event")
		return
	}

	if err := handler(msg); err != nil {
		log.WithError(err).WithField("event", msg.Event).Warn("Failed to handle message")
	}
}

// Go runs fn in the background with the session's context, which is
// cancelled when the session closes. Handlers use it for work that waits on
// the peer, since the peer's replies are dispatched by the same loop that
// called the handler.
func (s *Session) Go(fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Session task panicked")
				s.Close()
			}
		}()
		fn(s.ctx)
	}()
}

// Send writes a message to the peer.
func (s *Session) Send(event string, payload interface{}) error {
	return s.conn.Send(event, payload)
}

// Connected returns whether the session is still live.
func (s *Session) Connected() bool {
	return s.conn.Connected() && s.ctx.Err() == nil
}

// Context returns a context that's cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// OnClose registers fn to run when the session closes.
func (s *Session) OnClose(fn func()) {
	s.onClose = append(s.onClose, fn)
}

// Close tears down the session: the connection is closed, pending acks are
// resolved as failed, and every map and timer is cleared. It's safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.conn.Close(); err != nil {
			log.WithError(err).Debug("Failed to close connection")
		}

		s.acks.Close()
		s.transfers.Clear()
		s.guard.Stop()
		s.debouncer.Stop()

		for _, fn := range s.onClose {
			fn()
		}
	})
}

// Policy returns the filtering policy applied by this end of the session.
func (s *Session) Policy() *Policy {
	return s.policy
}

// Reporter returns the session's reporter.
func (s *Session) Reporter() Reporter {
	return s.reporter
}

// Report records an outcome.
func (s *Session) Report(action, path string, status Status, msg string) {
	s.reporter.Report(LogEntry{
		Time:    s.clock.Now(),
		Action:  action,
		Path:    path,
		Status:  status,
		Message: msg,
	})
}

// Debounce schedules fn for path after the debounce window. A newer call for
// the same path replaces fn.
func (s *Session) Debounce(path string, fn func()) {
	s.debouncer.Trigger(path, fn)
}

// Guarded returns whether local events for path should be dropped because
// the session just wrote it.
func (s *Session) Guarded(path string) bool {
	return s.guard.Guarded(path)
}

// SetInboundPaused controls whether remote update, create_dir and delete
// messages are applied.
func (s *Session) SetInboundPaused(paused bool) {
	var v int32
	if paused {
		v = 1
	}
	atomic.StoreInt32(&s.inboundPaused, v)
}

func (s *Session) inboundIsPaused() bool {
	return atomic.LoadInt32(&s.inboundPaused) == 1
}

// Stats describes the per-session state that's currently held.
type Stats struct {
	PendingAcks    int
	Transfers      int
	GuardedPaths   int
	PendingChanges int
}

// Stats returns the sizes of the session's tables.
func (s *Session) Stats() Stats {
	return Stats{
		PendingAcks:    s.acks.Len(),
		Transfers:      s.transfers.Len(),
		GuardedPaths:   s.guard.Len(),
		PendingChanges: s.debouncer.Pending(),
	}
}
