package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/mirrorsync/pkg/errors"
)

// maxFrameSize bounds a single inbound frame. A chunk is 256KiB of base64
// text, and a single update may carry up to the chunking threshold, so this
// leaves generous room for the envelope.
const maxFrameSize = 4 << 20

const handshakeTimeout = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 64 << 10,
	Subprotocols:    []string{subprotocolPrefix + CodecCBOR, subprotocolPrefix + CodecJSON},

	// There's no authentication, so there's nothing for cross-origin
	// requests to piggyback on.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsConn struct {
	ws    *websocket.Conn
	codec Codec

	writeLock sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Accept upgrades an HTTP request to an event connection. The codec is
// chosen from the subprotocol offered by the client, defaulting to JSON.
func Accept(w http.ResponseWriter, r *http.Request) (Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.WithContext(err, "upgrade")
	}

	codec := codecForSubprotocol(ws.Subprotocol())
	log.WithFields(log.Fields{
		"remote": ws.RemoteAddr().String(),
		"codec":  codec.Name(),
	}).Debug("Accepted websocket connection")
	return newWSConn(ws, codec), nil
}

// Dial connects to the sync server at url. The handshake is abandoned when
// ctx is cancelled.
func Dial(ctx context.Context, url string, codec Codec) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{Subprotocol(codec)},
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.WithContext(err, "dial")
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	// Servers that predate codec negotiation don't echo a subprotocol and
	// only speak JSON.
	return newWSConn(ws, codecForSubprotocol(ws.Subprotocol())), nil
}

func codecForSubprotocol(subprotocol string) Codec {
	if subprotocol == subprotocolPrefix+CodecCBOR {
		return cborCodec{}
	}
	return jsonCodec{}
}

func newWSConn(ws *websocket.Conn, codec Codec) *wsConn {
	ws.SetReadLimit(maxFrameSize)
	return &wsConn{ws: ws, codec: codec, done: make(chan struct{})}
}

func (c *wsConn) Send(event string, payload interface{}) error {
	if isClosed(c.done) {
		return errors.ErrConnectionClosed
	}

	frame, err := c.codec.Encode(event, payload)
	if err != nil {
		return errors.WithContext(err, "encode "+event)
	}

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	c.writeLock.Lock()
	err = c.ws.WriteMessage(frameType, frame)
	c.writeLock.Unlock()
	if err != nil {
		log.WithError(err).WithField("event", event).Debug("Websocket write failed")
		c.Close()
		return errors.ErrConnectionClosed
	}
	return nil
}

func (c *wsConn) Receive() (Message, error) {
	for {
		frameType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("Websocket read failed")
			}
			c.Close()
			return Message{}, errors.ErrConnectionClosed
		}

		if frameType != websocket.TextMessage && frameType != websocket.BinaryMessage {
			continue
		}
		return c.codec.Decode(frame)
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		// WriteControl may be called concurrently with WriteMessage.
		deadline := time.Now().Add(time.Second)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil {
			log.WithError(err).Debug("Failed to send websocket close frame")
		}

		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) Connected() bool {
	return !isClosed(c.done)
}
