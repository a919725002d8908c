// Package server implements the serving side of a sync session: it admits a
// single client at a time, applies the client's configuration, answers full
// sync requests, and pushes local changes as they happen.
package server

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	goSync "sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/mirrorsync/pkg/config"
	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/fswatch"
	"github.com/sidkik/mirrorsync/pkg/proto"
	"github.com/sidkik/mirrorsync/pkg/sync"
	"github.com/sidkik/mirrorsync/pkg/transport"
	"github.com/sidkik/mirrorsync/pkg/version"
)

// Mocked out for unit testing.
var (
	fs    = afero.NewOsFs()
	watch = fswatch.Watch
)

// rejectedMessage is sent to clients that connect while another client holds
// the session.
const rejectedMessage = "Another client is already connected. Only one client may sync at a time."

// Server manages the single active session.
type Server struct {
	root     afero.Fs
	base     sync.Config
	opts     sync.Options
	reporter sync.Reporter

	// ctx bounds the lifetime of every session.
	ctx context.Context

	lock    goSync.Mutex
	session *sync.Session
}

// New creates a server that mirrors root. root should be rooted at the
// served directory. base holds the server's own filtering rules, which are
// combined with each client's.
func New(ctx context.Context, root afero.Fs, base sync.Config, reporter sync.Reporter,
	opts sync.Options) *Server {

	if reporter == nil {
		reporter = sync.LogReporter{}
	}
	return &Server{
		root:     root,
		base:     base,
		opts:     opts,
		reporter: reporter,
		ctx:      ctx,
	}
}

// Run serves cfg.Dir until ctx is cancelled. Failing to create the served
// directory, watch it, or bind the listen address is fatal.
func Run(ctx context.Context, cfg config.Server, opts sync.Options) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return errors.WithContext(err, "resolve dir")
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errors.WithContext(err, "create sync root")
	}

	watcher, err := watch(dir)
	if err != nil {
		return errors.WithContext(err, "watch sync root")
	}
	defer watcher.Close()

	base := sync.Config{
		EnableFileSizeLimit: cfg.EnableFileSizeLimit,
		MaxFileSize:         cfg.MaxFileSize,
		PathRegex:           cfg.PathRegex,
	}
	srv := New(ctx, afero.NewBasePathFs(fs, dir), base, nil, opts)

	go func() {
		for ev := range watcher.Events() {
			srv.HandleLocalChange(ev)
		}
	}()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithContext(err, "listen")
	}

	httpServer := &http.Server{Handler: srv}
	go func() {
		<-ctx.Done()
		if err := httpServer.Close(); err != nil {
			log.WithError(err).Warn("Failed to close HTTP server")
		}
		srv.Close()
	}()

	log.WithFields(log.Fields{
		"address": addr,
		"dir":     dir,
		"version": version.Version,
	}).Info("mirrorsync server is ready")
	if err := httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return errors.WithContext(err, "serve")
	}
	return nil
}

// ServeHTTP upgrades the request to a sync connection, and runs the session
// until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Accept(w, r)
	if err != nil {
		log.WithError(err).Warn("Failed to accept connection")
		return
	}

	if sess, ok := s.Admit(conn); ok {
		sess.Run(s.ctx)
	}
}

// Admit creates the session for a new connection. If a session is already
// active, the connection is sent connection_rejected and closed, and the
// active session is left untouched.
func (s *Server) Admit(conn transport.Conn) (*sync.Session, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.session != nil {
		if err := conn.Send(proto.EventConnectionRejected,
			proto.ConnectionRejected{Message: rejectedMessage}); err != nil {
			log.WithError(err).Debug("Failed to notify rejected client")
		}
		if err := conn.Close(); err != nil {
			log.WithError(err).Debug("Failed to close rejected connection")
		}
		s.reporter.Report(sync.LogEntry{
			Action:  sync.ActionConnect,
			Status:  sync.StatusWarning,
			Message: "Rejected a second client",
		})
		return nil, false
	}

	reporter := sync.MultiReporter{s.reporter, forwardToClient(conn)}
	sess := sync.NewSession(conn, s.root, sync.NewPolicy(s.base), reporter, s.opts)
	sess.Handle(proto.EventConfigure, s.handleConfigure(sess))
	sess.Handle(proto.EventSyncAll, s.handleSyncAll(sess))
	sess.Handle(proto.EventClientUploadStart, s.handleUploadMarker(sess, "Client upload started"))
	sess.Handle(proto.EventClientUploadComplete, s.handleUploadMarker(sess, "Client upload complete"))
	sess.OnClose(func() {
		s.lock.Lock()
		if s.session == sess {
			s.session = nil
		}
		s.lock.Unlock()

		s.reporter.Report(sync.LogEntry{
			Action:  sync.ActionConnect,
			Status:  sync.StatusInfo,
			Message: "Client disconnected",
		})
	})

	s.session = sess
	s.reporter.Report(sync.LogEntry{
		Action:  sync.ActionConnect,
		Status:  sync.StatusSuccess,
		Message: "Client connected",
	})
	return sess, true
}

// Session returns the active session, or nil if no client is connected.
func (s *Server) Session() *sync.Session {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.session
}

// Close ends the active session, if any.
func (s *Server) Close() {
	if sess := s.Session(); sess != nil {
		sess.Close()
	}
}

// forwardToClient returns a reporter that sends warnings and errors to the
// client as server_log messages.
func forwardToClient(conn transport.Conn) sync.Reporter {
	return sync.ReporterFunc(func(entry sync.LogEntry) {
		if entry.Status != sync.StatusWarning && entry.Status != sync.StatusError {
			return
		}

		err := conn.Send(proto.EventServerLog, proto.ServerLog{
			Path:    entry.Path,
			Status:  string(entry.Status),
			Message: entry.Message,
			Action:  entry.Action,
		})
		if err != nil {
			log.WithError(err).Debug("Failed to forward log to client")
		}
	})
}

func (s *Server) handleConfigure(sess *sync.Session) sync.HandlerFunc {
	return func(msg transport.Message) error {
		var cfg proto.Configure
		if err := msg.Bind(&cfg); err != nil {
			return err
		}

		policy := sess.Policy()
		merged := policy.Remote().Merge(cfg)
		policy.SetRemote(merged)

		log.WithFields(log.Fields{
			"enableFileSizeLimit": merged.EnableFileSizeLimit,
			"maxFileSize":         merged.MaxFileSize,
			"pathRegex":           merged.PathRegex,
		}).Info("Client configuration updated")
		return nil
	}
}

func (s *Server) handleSyncAll(sess *sync.Session) sync.HandlerFunc {
	return func(transport.Message) error {
		// The walk waits for acks, which are dispatched by the loop that
		// called this handler.
		sess.Go(func(ctx context.Context) {
			if err := sess.SyncAll(ctx); err != nil {
				log.WithError(err).Debug("Full sync ended early")
			}
		})
		return nil
	}
}

func (s *Server) handleUploadMarker(sess *sync.Session, message string) sync.HandlerFunc {
	return func(transport.Message) error {
		s.reporter.Report(sync.LogEntry{
			Action:  sync.ActionUpload,
			Status:  sync.StatusInfo,
			Message: message,
		})
		return nil
	}
}
