// Package transport carries named events between the two ends of a sync
// session. Messages on a connection are delivered in order.
package transport

import (
	"github.com/sidkik/mirrorsync/pkg/errors"
)

// Conn is one end of an event connection.
type Conn interface {
	// Send encodes and writes a single event. It's safe to call from
	// multiple goroutines. Once the connection has closed, Send returns
	// errors.ErrConnectionClosed.
	Send(event string, payload interface{}) error

	// Receive blocks until the next event arrives. It must only be called
	// from one goroutine. It returns errors.ErrConnectionClosed after the
	// connection closes.
	Receive() (Message, error)

	// Close closes the connection. It's safe to call more than once.
	Close() error

	// Done is closed when the connection closes, from either side.
	Done() <-chan struct{}

	// Connected returns whether the connection is still open.
	Connected() bool
}

// Message is a received event whose payload is decoded lazily.
type Message struct {
	Event string

	data      []byte
	unmarshal func([]byte, interface{}) error
}

// Bind decodes the payload into v. An event without a payload leaves v
// unchanged.
func (m Message) Bind(v interface{}) error {
	if len(m.data) == 0 || m.unmarshal == nil {
		return nil
	}
	if err := m.unmarshal(m.data, v); err != nil {
		return errors.WithContext(err, "decode "+m.Event)
	}
	return nil
}

func isClosed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
