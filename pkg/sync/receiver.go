package sync

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/proto"
	"github.com/sidkik/mirrorsync/pkg/transport"
)

// checkInbound validates a path received from the peer against this end's
// policy. A rejected path is reported and false is returned.
func (s *Session) checkInbound(action, rawPath string) (string, bool) {
	relPath, err := CleanPath(rawPath)
	if err != nil {
		s.Report(action, rawPath, StatusError, err.Error())
		return "", false
	}

	if IsIgnored(relPath) {
		return "", false
	}

	if reason, ok := s.policy.CheckPath(relPath); !ok {
		s.Report(action, relPath, StatusWarning, "Skipped: "+reason)
		return "", false
	}
	return relPath, true
}

func (s *Session) handleUpdate(msg transport.Message) error {
	var update proto.Update
	if err := msg.Bind(&update); err != nil {
		return err
	}

	if s.inboundIsPaused() {
		log.WithField("path", update.Path).Debug("Ignoring update while uploading")
		return nil
	}

	relPath, ok := s.checkInbound(ActionUpdate, update.Path)
	if !ok {
		return nil
	}

	if update.IsDir {
		return s.createDir(relPath)
	}

	contents, err := base64.StdEncoding.DecodeString(update.Content)
	if err != nil {
		s.Report(ActionUpdate, relPath, StatusError, "Invalid file contents: "+err.Error())
		return nil
	}

	if reason, ok := s.policy.CheckSize(int64(len(contents))); !ok {
		s.Report(ActionUpdate, relPath, StatusWarning, "Skipped: "+reason)
		return nil
	}

	if err := s.ensureParent(relPath); err != nil {
		s.Report(ActionUpdate, relPath, StatusError, err.Error())
		return nil
	}

	s.guard.Mark(relPath)
	if err := afero.WriteFile(s.fs, relPath, contents, 0644); err != nil {
		s.Report(ActionUpdate, relPath, StatusError, errors.WithContext(err, "write").Error())
		return nil
	}

	s.Report(ActionUpdate, relPath, StatusSuccess, "Updated file")
	return nil
}

func (s *Session) handleCreateDir(msg transport.Message) error {
	var req proto.CreateDir
	if err := msg.Bind(&req); err != nil {
		return err
	}

	if s.inboundIsPaused() {
		log.WithField("path", req.Path).Debug("Ignoring create_dir while uploading")
		return nil
	}

	relPath, ok := s.checkInbound(ActionCreateDir, req.Path)
	if !ok {
		return nil
	}
	return s.createDir(relPath)
}

func (s *Session) createDir(relPath string) error {
	if exists, _ := afero.DirExists(s.fs, relPath); exists {
		return nil
	}

	s.guard.Mark(relPath)
	if err := s.fs.MkdirAll(relPath, 0755); err != nil {
		s.Report(ActionCreateDir, relPath, StatusError, errors.WithContext(err, "mkdir").Error())
		return nil
	}
	s.Report(ActionCreateDir, relPath, StatusSuccess, "Created directory")
	return nil
}

func (s *Session) handleDelete(msg transport.Message) error {
	var req proto.Delete
	if err := msg.Bind(&req); err != nil {
		return err
	}

	if s.inboundIsPaused() {
		log.WithField("path", req.Path).Debug("Ignoring delete while uploading")
		return nil
	}

	relPath, ok := s.checkInbound(ActionDelete, req.Path)
	if !ok {
		return nil
	}

	if exists, _ := afero.Exists(s.fs, relPath); !exists {
		return nil
	}

	s.guard.Mark(relPath)
	if err := s.fs.RemoveAll(relPath); err != nil {
		s.Report(ActionDelete, relPath, StatusError, errors.WithContext(err, "remove").Error())
		return nil
	}
	s.Report(ActionDelete, relPath, StatusSuccess, "Deleted")
	return nil
}

func (s *Session) handleChunkStart(msg transport.Message) error {
	var start proto.ChunkStart
	if err := msg.Bind(&start); err != nil {
		return err
	}
	if start.FileID == "" {
		return errors.MissingFieldError{Field: "fileId"}
	}

	state := &incomingTransfer{
		announced:   start.Path,
		totalChunks: start.TotalChunks,
		totalSize:   start.TotalSize,
	}

	relPath, err := CleanPath(start.Path)
	switch {
	case err != nil:
		state.rejectReason = err.Error()
	case IsIgnored(relPath):
		state.rejectReason = "Path is always ignored"
	default:
		state.path = relPath
		if reason, ok := s.policy.CheckPath(relPath); !ok {
			state.rejectReason = reason
		} else if reason, ok := s.policy.CheckSize(start.TotalSize); !ok {
			state.rejectReason = reason
		} else if err := s.ensureParent(relPath); err != nil {
			state.rejectReason = err.Error()
		}
	}

	if state.rejectReason == "" {
		state.progress = newProgress("receive", relPath, start.TotalChunks)
	}
	if dropped := s.transfers.start(start.FileID, state); dropped > 0 {
		log.WithFields(log.Fields{
			"path":    start.Path,
			"dropped": dropped,
		}).Debug("Dropped abandoned transfers")
	}
	return nil
}

func (s *Session) handleChunkData(msg transport.Message) error {
	var data proto.ChunkData
	if err := msg.Bind(&data); err != nil {
		return err
	}

	state, ok := s.transfers.get(data.FileID)
	if !ok {
		s.ack(data, errors.UnknownTransferError{FileID: data.FileID}.Error())
		return errors.UnknownTransferError{FileID: data.FileID}
	}

	if state.rejectReason != "" {
		if s.transfers.markWarned(data.FileID) {
			path := state.path
			if path == "" {
				path = data.Path
			}
			s.Report(ActionReceive, path, StatusWarning, "Rejected: "+state.rejectReason)
		}
		s.ack(data, state.rejectReason)
		return nil
	}

	contents, err := base64.StdEncoding.DecodeString(data.Content)
	if err != nil {
		s.ack(data, "invalid chunk contents: "+err.Error())
		return nil
	}

	if err := s.writeChunk(state.path, data.ChunkIndex, contents); err != nil {
		s.ack(data, err.Error())
		return nil
	}

	received, ok := s.transfers.received(data.FileID)
	if !ok {
		// Torn down while writing.
		return nil
	}
	state.progress.done(received)
	s.ack(data, "")
	return nil
}

func (s *Session) writeChunk(relPath string, index int, contents []byte) error {
	s.guard.Mark(relPath)

	flags := os.O_WRONLY | os.O_APPEND
	if index == 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, err := s.fs.OpenFile(relPath, flags, 0644)
	if err != nil {
		return errors.WithContext(err, "open")
	}

	if _, err := f.Write(contents); err != nil {
		f.Close()
		return errors.WithContext(err, "write")
	}
	return errors.WithContext(f.Close(), "close")
}

// ack acknowledges a chunk. An empty reason acknowledges success.
func (s *Session) ack(data proto.ChunkData, reason string) {
	err := s.Send(proto.EventChunkAck, proto.ChunkAck{
		FileID:     data.FileID,
		ChunkIndex: data.ChunkIndex,
		Success:    reason == "",
		Error:      reason,
	})
	if err != nil {
		log.WithError(err).WithField("fileId", data.FileID).Debug("Failed to send chunk ack")
	}
}

func (s *Session) handleChunkComplete(msg transport.Message) error {
	var complete proto.ChunkComplete
	if err := msg.Bind(&complete); err != nil {
		return err
	}

	state, ok := s.transfers.finish(complete.FileID)
	if !ok {
		log.WithField("fileId", complete.FileID).Debug("Completion for unknown transfer")
		return nil
	}
	if state.rejectReason != "" {
		return nil
	}

	if state.received != state.totalChunks {
		s.Report(ActionReceive, state.path, StatusError, fmt.Sprintf(
			"Transfer ended after %d of %d chunks", state.received, state.totalChunks))
		return nil
	}

	if complete.Digest != "" {
		if err := s.verifyDigest(state.path, complete.Digest); err != nil {
			s.Report(ActionReceive, state.path, StatusError, err.Error())
			return nil
		}
	}

	s.Report(ActionReceive, state.path, StatusSuccess,
		fmt.Sprintf("Received file in %d chunks", state.totalChunks))
	return nil
}

func (s *Session) verifyDigest(relPath, expected string) error {
	f, err := s.fs.Open(relPath)
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return errors.WithContext(err, "read")
	}

	if actual := hex.EncodeToString(hasher.Sum(nil)); actual != expected {
		return errors.WithContext(errors.ErrDigestMismatch, "verify")
	}
	return nil
}

func (s *Session) handleChunkAck(msg transport.Message) error {
	var ack proto.ChunkAck
	if err := msg.Bind(&ack); err != nil {
		return err
	}

	if !s.acks.Resolve(ack.FileID, ack.ChunkIndex, ack.Success, ack.Error) {
		log.WithFields(log.Fields{
			"fileId": ack.FileID,
			"chunk":  ack.ChunkIndex,
		}).Debug("Ack for a chunk that's no longer awaited")
	}
	return nil
}

func (s *Session) ensureParent(relPath string) error {
	dir := parentDir(relPath)
	if dir == "." {
		return nil
	}
	if exists, _ := afero.DirExists(s.fs, dir); exists {
		return nil
	}
	s.guard.Mark(dir)
	return errors.WithContext(s.fs.MkdirAll(dir, 0755), "create parent directory")
}
