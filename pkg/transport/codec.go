package transport

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sidkik/mirrorsync/pkg/errors"
)

// Codec names.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// subprotocolPrefix namespaces the websocket subprotocol used to negotiate
// the codec, e.g. "mirrorsync.cbor".
const subprotocolPrefix = "mirrorsync."

// A Codec converts events to and from wire frames.
type Codec interface {
	Name() string

	// Binary returns whether the frames produced by Encode should be sent
	// as binary rather than text.
	Binary() bool

	Encode(event string, payload interface{}) ([]byte, error)
	Decode(frame []byte) (Message, error)
}

// GetCodec returns the codec with the given name. The empty string selects
// the JSON codec.
func GetCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return jsonCodec{}, nil
	case CodecCBOR:
		return cborCodec{}, nil
	default:
		return nil, errors.NewFriendlyError(
			"Unknown codec %q. Supported codecs are %q and %q.", name, CodecJSON, CodecCBOR)
	}
}

// Subprotocol returns the websocket subprotocol that selects c.
func Subprotocol(c Codec) string {
	return subprotocolPrefix + c.Name()
}

type jsonEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(event string, payload interface{}) ([]byte, error) {
	env := jsonEnvelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.WithContext(err, "marshal payload")
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func (jsonCodec) Decode(frame []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, errors.WithContext(err, "unmarshal envelope")
	}
	if env.Event == "" {
		return Message{}, errors.MissingFieldError{Field: "event"}
	}
	return Message{Event: env.Event, data: env.Data, unmarshal: json.Unmarshal}, nil
}

type cborEnvelope struct {
	Event string          `cbor:"event"`
	Data  cbor.RawMessage `cbor:"data,omitempty"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("transport: cbor encoder: %s", err))
	}

	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("transport: cbor decoder: %s", err))
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return CodecCBOR }
func (cborCodec) Binary() bool { return true }

func (cborCodec) Encode(event string, payload interface{}) ([]byte, error) {
	env := cborEnvelope{Event: event}
	if payload != nil {
		data, err := cborEnc.Marshal(payload)
		if err != nil {
			return nil, errors.WithContext(err, "marshal payload")
		}
		env.Data = data
	}
	return cborEnc.Marshal(env)
}

func (cborCodec) Decode(frame []byte) (Message, error) {
	var env cborEnvelope
	if err := cborDec.Unmarshal(frame, &env); err != nil {
		return Message{}, errors.WithContext(err, "unmarshal envelope")
	}
	if env.Event == "" {
		return Message{}, errors.MissingFieldError{Field: "event"}
	}
	return Message{Event: env.Event, data: env.Data, unmarshal: cborDec.Unmarshal}, nil
}
