package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/proto"
)

func TestCodecs(t *testing.T) {
	for _, name := range []string{CodecJSON, CodecCBOR} {
		name := name
		t.Run(name, func(t *testing.T) {
			codec, err := GetCodec(name)
			require.NoError(t, err)

			frame, err := codec.Encode(proto.EventChunkAck, proto.ChunkAck{
				FileID: "id", ChunkIndex: 2, Success: false, Error: "disk full"})
			require.NoError(t, err)

			msg, err := codec.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, proto.EventChunkAck, msg.Event)

			var ack proto.ChunkAck
			require.NoError(t, msg.Bind(&ack))
			assert.Equal(t, proto.ChunkAck{FileID: "id", ChunkIndex: 2, Error: "disk full"}, ack)

			// Events without a payload leave the target untouched.
			frame, err = codec.Encode(proto.EventSyncAll, nil)
			require.NoError(t, err)
			msg, err = codec.Decode(frame)
			require.NoError(t, err)

			ctl := proto.SyncControl{Content: "unchanged"}
			assert.NoError(t, msg.Bind(&ctl))
			assert.Equal(t, "unchanged", ctl.Content)
		})
	}
}

func TestConfigureOmitsAbsentFields(t *testing.T) {
	codec, err := GetCodec(CodecJSON)
	require.NoError(t, err)

	limit := int64(10)
	frame, err := codec.Encode(proto.EventConfigure, proto.Configure{MaxFileSize: &limit})
	require.NoError(t, err)
	assert.Equal(t, `{"event":"configure","data":{"maxFileSize":10,"pathRegex":null}}`, string(frame))

	msg, err := codec.Decode(frame)
	require.NoError(t, err)

	var cfg proto.Configure
	require.NoError(t, msg.Bind(&cfg))
	assert.Nil(t, cfg.EnableFileSizeLimit)
	assert.Nil(t, cfg.PathRegex)
	assert.Equal(t, int64(10), *cfg.MaxFileSize)
}

func TestConfigureEmptyRules(t *testing.T) {
	for _, name := range []string{CodecJSON, CodecCBOR} {
		name := name
		t.Run(name, func(t *testing.T) {
			codec, err := GetCodec(name)
			require.NoError(t, err)

			frame, err := codec.Encode(proto.EventConfigure, proto.Configure{PathRegex: []string{}})
			require.NoError(t, err)
			msg, err := codec.Decode(frame)
			require.NoError(t, err)

			var cfg proto.Configure
			require.NoError(t, msg.Bind(&cfg))
			assert.NotNil(t, cfg.PathRegex)
			assert.Empty(t, cfg.PathRegex)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	codec, err := GetCodec(CodecJSON)
	require.NoError(t, err)

	_, err = codec.Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = codec.Decode([]byte(`{"data":{}}`))
	assert.Equal(t, errors.MissingFieldError{Field: "event"}, err)
}

func TestUnknownCodec(t *testing.T) {
	_, err := GetCodec("xml")
	assert.IsType(t, errors.FriendlyError{}, err)
}

func TestPipe(t *testing.T) {
	codec, err := GetCodec(CodecCBOR)
	require.NoError(t, err)

	a, b := Pipe(codec)
	require.NoError(t, a.Send(proto.EventDelete, proto.Delete{Path: "x", IsDir: true}))
	require.NoError(t, a.Close())

	// Frames sent before the close are still delivered.
	msg, err := b.Receive()
	require.NoError(t, err)
	var del proto.Delete
	require.NoError(t, msg.Bind(&del))
	assert.Equal(t, proto.Delete{Path: "x", IsDir: true}, del)

	_, err = b.Receive()
	assert.Equal(t, errors.ErrConnectionClosed, err)
	assert.Equal(t, errors.ErrConnectionClosed, b.Send(proto.EventSyncAll, nil))
	assert.False(t, b.Connected())
}

func TestWebsocket(t *testing.T) {
	for _, name := range []string{CodecJSON, CodecCBOR} {
		name := name
		t.Run(name, func(t *testing.T) {
			accepted := make(chan Conn, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				conn, err := Accept(w, r)
				if assert.NoError(t, err) {
					accepted <- conn
				}
			}))
			defer srv.Close()

			codec, err := GetCodec(name)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), codec)
			require.NoError(t, err)

			server := <-accepted
			assert.Equal(t, name, server.(*wsConn).codec.Name())

			require.NoError(t, client.Send(proto.EventUpdate, proto.Update{
				Path: "a.txt", Content: "aGk=", Encoding: proto.EncodingBase64}))

			msg, err := server.Receive()
			require.NoError(t, err)
			var update proto.Update
			require.NoError(t, msg.Bind(&update))
			assert.Equal(t, "a.txt", update.Path)
			assert.Equal(t, "aGk=", update.Content)

			require.NoError(t, client.Close())
			_, err = server.Receive()
			assert.Equal(t, errors.ErrConnectionClosed, err)

			select {
			case <-server.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("server connection never closed")
			}
			assert.False(t, server.Connected())
		})
	}
}
