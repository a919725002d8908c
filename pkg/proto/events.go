// Package proto defines the messages exchanged between a mirrorsync server
// and its client. Every message is a named event with a JSON-shaped payload.
package proto

// Event names.
const (
	EventConfigure            = "configure"
	EventUpdate               = "update"
	EventCreateDir            = "create_dir"
	EventDelete               = "delete"
	EventChunkStart           = "chunk_start"
	EventChunkData            = "chunk_data"
	EventChunkAck             = "chunk_ack"
	EventChunkComplete        = "chunk_complete"
	EventSyncAll              = "sync_all"
	EventSyncStart            = "sync_start"
	EventSyncComplete         = "sync_complete"
	EventSyncError            = "sync_error"
	EventClientUploadStart    = "client_upload_start"
	EventClientUploadComplete = "client_upload_complete"
	EventServerLog            = "server_log"
	EventConnectionRejected   = "connection_rejected"
)

// EncodingBase64 is the only content encoding used on the wire.
const EncodingBase64 = "base64"

// Configure carries a client's filtering preferences. Nil fields were not
// provided and leave the receiver's current value untouched. An empty, non-nil
// PathRegex clears the rules.
type Configure struct {
	EnableFileSizeLimit *bool    `json:"enableFileSizeLimit,omitempty" cbor:"enableFileSizeLimit,omitempty"`
	MaxFileSize         *int64   `json:"maxFileSize,omitempty" cbor:"maxFileSize,omitempty"`
	PathRegex           []string `json:"pathRegex" cbor:"pathRegex"`
}

// Update replaces a whole file in a single message.
type Update struct {
	Path     string `json:"path" cbor:"path"`
	Content  string `json:"content" cbor:"content"`
	IsDir    bool   `json:"isDir" cbor:"isDir"`
	Encoding string `json:"encoding" cbor:"encoding"`
}

// CreateDir creates a directory, including missing parents.
type CreateDir struct {
	Path  string `json:"path" cbor:"path"`
	IsDir bool   `json:"isDir" cbor:"isDir"`
}

// Delete removes a file, or a directory and its contents.
type Delete struct {
	Path  string `json:"path" cbor:"path"`
	IsDir bool   `json:"isDir" cbor:"isDir"`
}

// ChunkStart announces a chunked transfer.
type ChunkStart struct {
	Path        string `json:"path" cbor:"path"`
	FileID      string `json:"fileId" cbor:"fileId"`
	TotalChunks int    `json:"totalChunks" cbor:"totalChunks"`
	TotalSize   int64  `json:"totalSize" cbor:"totalSize"`
	IsDir       bool   `json:"isDir" cbor:"isDir"`
}

// ChunkData carries one base64 slice of a chunked transfer.
type ChunkData struct {
	FileID     string `json:"fileId" cbor:"fileId"`
	ChunkIndex int    `json:"chunkIndex" cbor:"chunkIndex"`
	Content    string `json:"content" cbor:"content"`
	Path       string `json:"path,omitempty" cbor:"path,omitempty"`
}

// ChunkAck confirms or refuses a single chunk.
type ChunkAck struct {
	FileID     string `json:"fileId" cbor:"fileId"`
	ChunkIndex int    `json:"chunkIndex" cbor:"chunkIndex"`
	Success    bool   `json:"success" cbor:"success"`
	Error      string `json:"error,omitempty" cbor:"error,omitempty"`
}

// ChunkComplete ends a chunked transfer. Digest is the hex BLAKE3 hash of
// the raw file contents, when the sender computed one.
type ChunkComplete struct {
	FileID string `json:"fileId" cbor:"fileId"`
	Path   string `json:"path" cbor:"path"`
	Digest string `json:"digest,omitempty" cbor:"digest,omitempty"`
}

// SyncControl is the payload of the bulk pass control events (sync_all,
// sync_start, sync_complete, sync_error, client_upload_start and
// client_upload_complete).
type SyncControl struct {
	Content string `json:"content,omitempty" cbor:"content,omitempty"`
}

// ServerLog surfaces a server-side outcome to the client.
type ServerLog struct {
	Path    string `json:"path" cbor:"path"`
	Status  string `json:"status" cbor:"status"`
	Message string `json:"message" cbor:"message"`
	Action  string `json:"action,omitempty" cbor:"action,omitempty"`
}

// ConnectionRejected is sent to a client that connected while another
// client holds the session.
type ConnectionRejected struct {
	Message string `json:"message" cbor:"message"`
}
