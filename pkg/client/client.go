// Package client implements the connecting side of a sync session.
package client

import (
	"context"
	"fmt"
	goSync "sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/mirrorsync/pkg/config"
	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/proto"
	"github.com/sidkik/mirrorsync/pkg/sync"
	"github.com/sidkik/mirrorsync/pkg/transport"
)

// DefaultConnectTimeout bounds how long Connect waits for the handshake.
const DefaultConnectTimeout = 15 * time.Second

// Mocked out for unit testing.
var (
	fs   = afero.NewOsFs()
	dial = transport.Dial
)

// State is the connection state of a Client.
type State int

// The states a Client moves through.
const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Client connects a local target directory to a sync server.
type Client struct {
	cfg            config.Client
	opts           sync.Options
	reporter       sync.Reporter
	connectTimeout time.Duration

	lock          goSync.Mutex
	state         State
	attempt       int
	cancelConnect context.CancelFunc
	session       *sync.Session

	// pull is resolved with the outcome of the pending Pull, if any.
	pull chan error

	// disconnected is closed when the current session ends.
	disconnected chan struct{}
	endErr       error
}

// New creates a disconnected client.
func New(cfg config.Client, reporter sync.Reporter, opts sync.Options) *Client {
	if reporter == nil {
		reporter = sync.LogReporter{}
	}
	return &Client{
		cfg:            cfg,
		opts:           opts,
		reporter:       reporter,
		connectTimeout: DefaultConnectTimeout,
	}
}

// SetConnectTimeout changes how long Connect waits for the handshake.
func (c *Client) SetConnectTimeout(d time.Duration) {
	if d > 0 {
		c.connectTimeout = d
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

func (c *Client) localConfig() sync.Config {
	return sync.Config{
		EnableFileSizeLimit: c.cfg.EnableFileSizeLimit,
		MaxFileSize:         c.cfg.MaxFileSize,
		PathRegex:           c.cfg.PathRegex,
	}
}

// Connect dials the server and starts the session. It fails if the target
// directory doesn't exist, if the handshake doesn't finish within the
// connect timeout, or if Cancel is called first. A cancelled connect never
// leaves a session behind.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.checkTargetDir(); err != nil {
		return err
	}

	codec, err := transport.GetCodec(c.cfg.Codec)
	if err != nil {
		return err
	}

	c.lock.Lock()
	if c.state != Disconnected {
		state := c.state
		c.lock.Unlock()
		return errors.New("cannot connect while %s", state)
	}
	c.attempt++
	attempt := c.attempt
	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	c.cancelConnect = cancel
	c.state = Connecting
	c.lock.Unlock()
	defer cancel()

	conn, dialErr := dial(connectCtx, c.cfg.ServerURL, codec)

	c.lock.Lock()
	defer c.lock.Unlock()

	// Cancel may have run, and possibly a new Connect after it.
	if c.attempt != attempt || c.state != Connecting {
		if dialErr == nil {
			conn.Close()
		}
		return context.Canceled
	}
	c.cancelConnect = nil

	if dialErr != nil {
		c.state = Disconnected
		if connectCtx.Err() == context.DeadlineExceeded {
			return errors.NewFriendlyError("Timed out connecting to %s after %s.",
				c.cfg.ServerURL, c.connectTimeout)
		}
		return errors.WithContext(dialErr, "connect")
	}

	root := afero.NewBasePathFs(fs, c.cfg.TargetDir)
	sess := sync.NewSession(conn, root, sync.NewPolicy(c.localConfig()), c.reporter, c.opts)
	sess.Handle(proto.EventSyncStart, c.handleSyncStart)
	sess.Handle(proto.EventSyncComplete, c.handleSyncComplete)
	sess.Handle(proto.EventSyncError, c.handleSyncError)
	sess.Handle(proto.EventServerLog, c.handleServerLog)
	sess.Handle(proto.EventConnectionRejected, c.handleRejected(sess))
	sess.OnClose(func() { c.sessionEnded(sess) })

	c.session = sess
	c.state = Connected
	c.disconnected = make(chan struct{})
	c.endErr = nil

	if err := sess.Send(proto.EventConfigure, c.localConfig().Configure()); err != nil {
		log.WithError(err).Warn("Failed to send configuration")
	}

	go sess.Run(context.Background())
	c.report(sync.ActionConnect, sync.StatusSuccess, "Connected to "+c.cfg.ServerURL)
	return nil
}

// Cancel abandons a connect that's in progress. It has no effect once the
// client is connected.
func (c *Client) Cancel() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state != Connecting {
		return
	}
	if c.cancelConnect != nil {
		c.cancelConnect()
		c.cancelConnect = nil
	}
	c.state = Disconnected
}

// Disconnect ends the session, or abandons a connect in progress.
func (c *Client) Disconnect() {
	c.Cancel()

	c.lock.Lock()
	sess := c.session
	c.lock.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// Wait blocks until the current session ends, and returns why. A client that
// was turned away because another client holds the session gets
// errors.ErrRejected.
func (c *Client) Wait(ctx context.Context) error {
	c.lock.Lock()
	done := c.disconnected
	c.lock.Unlock()
	if done == nil {
		return errors.ErrNotConnected
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	return c.endErr
}

// Configure replaces the client's filtering settings and sends them to the
// server if connected.
func (c *Client) Configure(cfg config.Client) error {
	c.lock.Lock()
	c.cfg.EnableFileSizeLimit = cfg.EnableFileSizeLimit
	c.cfg.MaxFileSize = cfg.MaxFileSize
	c.cfg.PathRegex = cfg.PathRegex
	local := c.localConfig()
	sess := c.session
	c.lock.Unlock()

	if sess == nil {
		return nil
	}
	sess.Policy().SetLocal(local)
	return sess.Send(proto.EventConfigure, local.Configure())
}

// Pull asks the server for its whole tree, and waits until the server
// reports the outcome.
func (c *Client) Pull(ctx context.Context) error {
	c.lock.Lock()
	sess := c.session
	if sess == nil {
		c.lock.Unlock()
		return errors.ErrNotConnected
	}
	if c.pull != nil {
		c.lock.Unlock()
		return errors.New("a full sync is already running")
	}
	result := make(chan error, 1)
	c.pull = result
	c.lock.Unlock()

	if err := sess.Send(proto.EventSyncAll, proto.SyncControl{}); err != nil {
		c.resolvePull(err)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		c.resolvePull(ctx.Err())
		return ctx.Err()
	}
}

// Push uploads the whole target directory to the server. Changes pushed by
// the server are ignored until the upload finishes.
func (c *Client) Push(ctx context.Context) error {
	if err := c.checkTargetDir(); err != nil {
		return err
	}

	c.lock.Lock()
	sess := c.session
	c.lock.Unlock()
	if sess == nil {
		return errors.ErrNotConnected
	}
	return sess.UploadAll(ctx)
}

// Session returns the active session, or nil.
func (c *Client) Session() *sync.Session {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.session
}

func (c *Client) checkTargetDir() error {
	if c.cfg.TargetDir == "" {
		return errors.NewFriendlyError("No target directory is configured. " +
			"Run `mirrorsync config --dir <path>` or pass --dir.")
	}

	isDir, err := afero.DirExists(fs, c.cfg.TargetDir)
	if err != nil {
		return errors.WithContext(err, "stat target dir")
	}
	if !isDir {
		return errors.NewFriendlyError("The target directory %q doesn't exist.", c.cfg.TargetDir)
	}
	return nil
}

func (c *Client) resolvePull(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.pull != nil {
		c.pull <- err
		c.pull = nil
	}
}

func (c *Client) sessionEnded(sess *sync.Session) {
	c.lock.Lock()
	if c.session == sess {
		c.session = nil
		c.state = Disconnected
		if c.endErr == nil {
			c.endErr = errors.ErrConnectionClosed
		}
		close(c.disconnected)
	}
	endErr := c.endErr
	c.lock.Unlock()

	c.resolvePull(endErr)
	c.report(sync.ActionConnect, sync.StatusInfo, "Disconnected")
}

func (c *Client) report(action string, status sync.Status, msg string) {
	c.reporter.Report(sync.LogEntry{
		Time:    time.Now(),
		Action:  action,
		Status:  status,
		Message: msg,
	})
}

func (c *Client) handleSyncStart(transport.Message) error {
	c.report(sync.ActionSyncAll, sync.StatusInfo, "Full sync started")
	return nil
}

func (c *Client) handleSyncComplete(transport.Message) error {
	c.report(sync.ActionSyncAll, sync.StatusSuccess, "Full sync complete")
	c.resolvePull(nil)
	return nil
}

func (c *Client) handleSyncError(msg transport.Message) error {
	var ctl proto.SyncControl
	if err := msg.Bind(&ctl); err != nil {
		return err
	}

	c.report(sync.ActionSyncAll, sync.StatusError, "Full sync failed: "+ctl.Content)
	c.resolvePull(errors.New("server failed full sync: %s", ctl.Content))
	return nil
}

func (c *Client) handleServerLog(msg transport.Message) error {
	var entry proto.ServerLog
	if err := msg.Bind(&entry); err != nil {
		return err
	}

	action := entry.Action
	if action == "" {
		action = "server"
	}
	c.reporter.Report(sync.LogEntry{
		Time:    time.Now(),
		Action:  action,
		Path:    entry.Path,
		Status:  sync.Status(entry.Status),
		Message: "Server: " + entry.Message,
	})
	return nil
}

func (c *Client) handleRejected(sess *sync.Session) sync.HandlerFunc {
	return func(msg transport.Message) error {
		var rejected proto.ConnectionRejected
		if err := msg.Bind(&rejected); err != nil {
			return err
		}

		c.lock.Lock()
		if c.session == sess {
			c.endErr = errors.ErrRejected
		}
		c.lock.Unlock()

		c.report(sync.ActionConnect, sync.StatusError, "Connection rejected: "+rejected.Message)
		sess.Close()
		return nil
	}
}
