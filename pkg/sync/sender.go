package sync

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/proto"
)

// ChunkCount returns the number of chunks needed for a file of size bytes,
// or 0 if the file is small enough to be sent in a single update.
func ChunkCount(size int64, chunkSize int) int {
	encodedLen := int64(base64.StdEncoding.EncodedLen(int(size)))
	if encodedLen <= int64(chunkSize) {
		return 0
	}
	return int((encodedLen + int64(chunkSize) - 1) / int64(chunkSize))
}

// SendFile sends the file at relPath to the peer. Small files are sent in a
// single update. Larger files are sent in chunks, and a failed chunked
// transfer is restarted from the first chunk with a new file ID until the
// retries run out. If the connection closes, SendFile gives up immediately
// without spending a retry.
func (s *Session) SendFile(ctx context.Context, relPath string) error {
	s.sendLock.Lock()
	defer s.sendLock.Unlock()

	fi, err := s.fs.Stat(relPath)
	if err != nil {
		return errors.WithContext(err, "stat")
	}
	if fi.IsDir() {
		return s.Send(proto.EventCreateDir, proto.CreateDir{Path: relPath, IsDir: true})
	}

	if ChunkCount(fi.Size(), s.opts.ChunkSize) == 0 {
		return s.sendWhole(relPath)
	}

	var lastErr error
	attempts := s.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			log.WithError(lastErr).WithFields(log.Fields{
				"path":    relPath,
				"attempt": attempt,
			}).Warn("Chunked transfer failed. Retrying.")

			select {
			case <-s.clock.After(s.opts.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			case <-s.conn.Done():
				return errors.ErrConnectionClosed
			}
		}

		if !s.Connected() {
			return errors.ErrConnectionClosed
		}

		// Stat again, since the file may have changed since the last
		// attempt.
		if attempt > 1 {
			if fi, err = s.fs.Stat(relPath); err != nil {
				return errors.WithContext(err, "stat")
			}
		}

		lastErr = s.sendChunked(ctx, relPath, fi.Size())
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, errors.ErrConnectionClosed) || ctx.Err() != nil {
			return lastErr
		}
		if !s.Connected() {
			return errors.ErrConnectionClosed
		}
	}

	return errors.TransferFailedError{Path: relPath, Attempts: attempts, Err: lastErr}
}

func (s *Session) sendWhole(relPath string) error {
	contents, err := afero.ReadFile(s.fs, relPath)
	if err != nil {
		return errors.WithContext(err, "read")
	}

	return s.Send(proto.EventUpdate, proto.Update{
		Path:     relPath,
		Content:  base64.StdEncoding.EncodeToString(contents),
		IsDir:    false,
		Encoding: proto.EncodingBase64,
	})
}

// sendChunked makes a single attempt at a chunked transfer.
func (s *Session) sendChunked(ctx context.Context, relPath string, size int64) error {
	fileID := uuid.NewString()
	totalChunks := ChunkCount(size, s.opts.ChunkSize)

	f, err := s.fs.Open(relPath)
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer f.Close()

	err = s.Send(proto.EventChunkStart, proto.ChunkStart{
		Path:        relPath,
		FileID:      fileID,
		TotalChunks: totalChunks,
		TotalSize:   size,
	})
	if err != nil {
		return errors.WithContext(err, "send chunk_start")
	}

	hasher := blake3.New()
	buf := make([]byte, s.opts.rawChunkSize())
	prog := newProgress("send", relPath, totalChunks)
	for i := 0; i < totalChunks; i++ {
		if !s.Connected() {
			return errors.ErrConnectionClosed
		}

		n, err := io.ReadFull(f, buf)
		switch {
		case err == io.EOF:
			return errors.ErrFileChanged
		case err == io.ErrUnexpectedEOF && i != totalChunks-1:
			return errors.ErrFileChanged
		case err != nil && err != io.ErrUnexpectedEOF:
			return errors.WithContext(err, "read")
		}
		hasher.Write(buf[:n])

		pending, err := s.acks.Register(fileID, i)
		if err != nil {
			return err
		}

		err = s.Send(proto.EventChunkData, proto.ChunkData{
			FileID:     fileID,
			ChunkIndex: i,
			Content:    base64.StdEncoding.EncodeToString(buf[:n]),
			Path:       relPath,
		})
		if err != nil {
			pending.Cancel()
			return errors.WithContext(err, "send chunk_data")
		}

		if err := pending.Wait(ctx, s.clock, s.opts.AckTimeout); err != nil {
			return errors.WithContext(err, fmt.Sprintf("chunk %d", i))
		}
		prog.done(i + 1)
	}

	err = s.Send(proto.EventChunkComplete, proto.ChunkComplete{
		FileID: fileID,
		Path:   relPath,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	})
	if err != nil {
		return errors.WithContext(err, "send chunk_complete")
	}
	return nil
}
