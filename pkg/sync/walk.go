package sync

import (
	"context"
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/proto"
)

type walkEntry struct {
	relPath string
	info    os.FileInfo
}

// Walk sends every entry under the root to the peer in depth-first
// pre-order: a directory is created on the peer before any of its children
// are sent. Entries rejected by the policy are reported and skipped, and a
// file that fails to transfer is reported without ending the walk. Walk
// stops as soon as the connection closes.
func (s *Session) Walk(ctx context.Context, action string) error {
	rootEntries, err := afero.ReadDir(s.fs, ".")
	if err != nil {
		return errors.WithContext(err, "list root")
	}

	var stack []walkEntry
	push := func(dir string, entries []os.FileInfo) {
		// Push in reverse so that entries are popped in directory order.
		for i := len(entries) - 1; i >= 0; i-- {
			stack = append(stack, walkEntry{
				relPath: path.Join(dir, entries[i].Name()),
				info:    entries[i],
			})
		}
	}
	push("", rootEntries)

	for len(stack) > 0 {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !s.Connected() {
			return errors.ErrConnectionClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if IsIgnored(entry.relPath) {
			continue
		}
		if reason, ok := s.policy.CheckPath(entry.relPath); !ok {
			s.Report(action, entry.relPath, StatusWarning, "Skipped: "+reason)
			continue
		}

		if entry.info.IsDir() {
			err := s.Send(proto.EventCreateDir, proto.CreateDir{Path: entry.relPath, IsDir: true})
			if err != nil {
				return errors.WithContext(err, "send create_dir")
			}

			children, err := afero.ReadDir(s.fs, entry.relPath)
			if err != nil {
				s.Report(action, entry.relPath, StatusError,
					errors.WithContext(err, "list directory").Error())
				continue
			}
			push(entry.relPath, children)
			continue
		}

		if !entry.info.Mode().IsRegular() {
			continue
		}

		if reason, ok := s.policy.CheckSize(entry.info.Size()); !ok {
			s.Report(action, entry.relPath, StatusWarning, "Skipped: "+reason)
			continue
		}

		if err := s.SendFile(ctx, entry.relPath); err != nil {
			if errors.Is(err, errors.ErrConnectionClosed) || !s.Connected() {
				return errors.ErrConnectionClosed
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.Report(action, entry.relPath, StatusError, err.Error())
			continue
		}
		s.Report(action, entry.relPath, StatusSuccess, "Sent file")
	}
	return nil
}

// SyncAll pushes the whole tree to the peer, bracketed by sync_start and
// sync_complete. If the walk fails for any reason other than the connection
// closing, the peer is sent a sync_error instead.
func (s *Session) SyncAll(ctx context.Context) error {
	if err := s.Send(proto.EventSyncStart, proto.SyncControl{}); err != nil {
		return errors.WithContext(err, "send sync_start")
	}
	s.Report(ActionSyncAll, "", StatusInfo, "Full sync started")

	err := s.Walk(ctx, ActionSyncAll)
	switch {
	case err == nil && s.Connected():
		if err := s.Send(proto.EventSyncComplete, proto.SyncControl{}); err != nil {
			return errors.WithContext(err, "send sync_complete")
		}
		s.Report(ActionSyncAll, "", StatusSuccess, "Full sync complete")
		return nil
	case err == nil, errors.Is(err, errors.ErrConnectionClosed), ctx.Err() != nil:
		s.Report(ActionSyncAll, "", StatusWarning, "Full sync interrupted")
		return errors.ErrConnectionClosed
	default:
		s.Report(ActionSyncAll, "", StatusError, "Full sync failed: "+err.Error())
		if sendErr := s.Send(proto.EventSyncError, proto.SyncControl{Content: err.Error()}); sendErr != nil {
			return errors.WithContext(sendErr, "send sync_error")
		}
		return err
	}
}

// UploadAll pushes the whole tree to the peer, bracketed by
// client_upload_start and client_upload_complete. Remote changes are ignored
// while the upload runs.
func (s *Session) UploadAll(ctx context.Context) error {
	s.SetInboundPaused(true)
	defer s.SetInboundPaused(false)

	if err := s.Send(proto.EventClientUploadStart, proto.SyncControl{}); err != nil {
		return errors.WithContext(err, "send client_upload_start")
	}
	s.Report(ActionUpload, "", StatusInfo, "Upload started")

	if err := s.Walk(ctx, ActionUpload); err != nil {
		if errors.Is(err, errors.ErrConnectionClosed) || ctx.Err() != nil {
			s.Report(ActionUpload, "", StatusWarning, "Upload interrupted")
			return errors.ErrConnectionClosed
		}
		s.Report(ActionUpload, "", StatusError, "Upload failed: "+err.Error())
		return err
	}

	if err := s.Send(proto.EventClientUploadComplete, proto.SyncControl{}); err != nil {
		s.Report(ActionUpload, "", StatusWarning, "Upload interrupted")
		return errors.WithContext(err, "send client_upload_complete")
	}
	s.Report(ActionUpload, "", StatusSuccess, "Upload complete")
	return nil
}
