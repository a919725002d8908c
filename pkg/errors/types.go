package errors

import (
	"fmt"
)

var (
	ErrFileChanged = New("file contents changed during sync")

	// ErrConnectionClosed is returned when an operation is interrupted because
	// the peer disconnected. Operations that see it stop immediately rather
	// than retrying.
	ErrConnectionClosed = New("connection closed")

	// ErrRejected is returned to a client whose connection was refused
	// because another client already holds the session.
	ErrRejected = New("connection rejected by server")

	// ErrAckTimeout is returned when a chunk acknowledgement doesn't arrive
	// in time.
	ErrAckTimeout = New("timed out waiting for chunk acknowledgement")

	// ErrNotConnected is returned by client operations that require an
	// established session.
	ErrNotConnected = New("not connected")

	// ErrDigestMismatch is returned when a reassembled file doesn't match
	// the digest announced by the sender.
	ErrDigestMismatch = New("digest mismatch")
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// TransferFailedError is returned when a file couldn't be delivered after
// exhausting every attempt.
type TransferFailedError struct {
	Path     string
	Attempts int
	Err      error
}

func (err TransferFailedError) Error() string {
	return fmt.Sprintf("transfer of %q failed after %d attempts: %s",
		err.Path, err.Attempts, err.Err)
}

func (err TransferFailedError) Unwrap() error {
	return err.Err
}

// UnknownTransferError is returned when a chunk references a transfer that
// was never started, or that has already finished.
type UnknownTransferError struct {
	FileID string
}

func (err UnknownTransferError) Error() string {
	return fmt.Sprintf("unknown transfer %q", err.FileID)
}

// ChunkRejectedError is returned when the receiver negatively acknowledges a
// chunk.
type ChunkRejectedError struct {
	Index  int
	Reason string
}

func (err ChunkRejectedError) Error() string {
	if err.Reason == "" {
		return fmt.Sprintf("chunk %d rejected", err.Index)
	}
	return fmt.Sprintf("chunk %d rejected: %s", err.Index, err.Reason)
}
