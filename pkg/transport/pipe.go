package transport

import (
	"sync"

	"github.com/sidkik/mirrorsync/pkg/errors"
)

// pipeBuffer is the number of frames that can be in flight in each direction
// before Send blocks.
const pipeBuffer = 256

type pipeConn struct {
	codec Codec
	in    <-chan []byte
	out   chan<- []byte

	done      chan struct{}
	closeOnce *sync.Once
}

// Pipe returns two connected in-memory connections. Frames are encoded with
// codec, so both ends exercise the same encoding as a network connection.
// Closing either end closes both.
func Pipe(codec Codec) (Conn, Conn) {
	aToB := make(chan []byte, pipeBuffer)
	bToA := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeConn{codec: codec, in: bToA, out: aToB, done: done, closeOnce: once}
	b := &pipeConn{codec: codec, in: aToB, out: bToA, done: done, closeOnce: once}
	return a, b
}

func (c *pipeConn) Send(event string, payload interface{}) error {
	if isClosed(c.done) {
		return errors.ErrConnectionClosed
	}

	frame, err := c.codec.Encode(event, payload)
	if err != nil {
		return errors.WithContext(err, "encode "+event)
	}

	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return errors.ErrConnectionClosed
	}
}

func (c *pipeConn) Receive() (Message, error) {
	// Drain frames that were sent before the close so that ordering matches
	// a network connection.
	select {
	case frame := <-c.in:
		return c.codec.Decode(frame)
	default:
	}

	select {
	case frame := <-c.in:
		return c.codec.Decode(frame)
	case <-c.done:
	}

	// The peer may have sent a final frame just before closing.
	select {
	case frame := <-c.in:
		return c.codec.Decode(frame)
	default:
		return Message{}, errors.ErrConnectionClosed
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *pipeConn) Done() <-chan struct{} {
	return c.done
}

func (c *pipeConn) Connected() bool {
	return !isClosed(c.done)
}
