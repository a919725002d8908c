package server

import (
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/fswatch"
	"github.com/sidkik/mirrorsync/pkg/proto"
	"github.com/sidkik/mirrorsync/pkg/sync"
)

// HandleLocalChange feeds a local file system event into the push pipeline.
// Events are dropped when no client is connected, or when the path was just
// written on behalf of the client. The rest are debounced per path, and only
// the last event of a burst is pushed.
func (s *Server) HandleLocalChange(ev fswatch.Event) {
	sess := s.Session()
	if sess == nil {
		log.WithField("path", ev.Path).Debug("Dropping change: no client connected")
		return
	}

	if sync.IsIgnored(ev.Path) {
		return
	}

	if sess.Guarded(ev.Path) {
		log.WithField("path", ev.Path).Debug("Dropping change to recently received path")
		return
	}

	sess.Debounce(ev.Path, func() {
		if err := s.pushChange(sess, ev); err != nil {
			sess.Report(actionFor(ev.Kind), ev.Path, sync.StatusError, err.Error())
		}
	})
}

func (s *Server) pushChange(sess *sync.Session, ev fswatch.Event) error {
	if !sess.Connected() {
		return nil
	}

	action := actionFor(ev.Kind)
	if reason, ok := sess.Policy().CheckPath(ev.Path); !ok {
		log.WithField("path", ev.Path).Debugf("Not pushing change: %s", reason)
		return nil
	}

	switch ev.Kind {
	case fswatch.Add, fswatch.Change:
		fi, err := s.root.Stat(ev.Path)
		if err != nil {
			// Removed before the debounce window passed. The removal is
			// pushed by its own event.
			log.WithError(err).WithField("path", ev.Path).Debug("Changed file disappeared")
			return nil
		}
		if fi.IsDir() {
			return sess.Send(proto.EventCreateDir, proto.CreateDir{Path: ev.Path, IsDir: true})
		}

		if reason, ok := sess.Policy().CheckSize(fi.Size()); !ok {
			sess.Report(action, ev.Path, sync.StatusWarning, "Skipped: "+reason)
			return nil
		}

		if err := sess.SendFile(sess.Context(), ev.Path); err != nil {
			if errors.Is(err, errors.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		sess.Report(action, ev.Path, sync.StatusSuccess, "Pushed change")
		return nil

	case fswatch.AddDir:
		return sess.Send(proto.EventCreateDir, proto.CreateDir{Path: ev.Path, IsDir: true})

	case fswatch.Remove, fswatch.RemoveDir:
		return sess.Send(proto.EventDelete, proto.Delete{
			Path:  ev.Path,
			IsDir: ev.Kind == fswatch.RemoveDir,
		})
	}
	return nil
}

func actionFor(kind fswatch.Kind) string {
	switch kind {
	case fswatch.AddDir:
		return sync.ActionCreateDir
	case fswatch.Remove, fswatch.RemoveDir:
		return sync.ActionDelete
	default:
		return sync.ActionUpdate
	}
}
