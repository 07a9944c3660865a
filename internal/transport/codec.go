package transport

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes message envelopes into frames.
type Codec interface {
	Name() string
	Encode(msg Message) ([]byte, error)
	Decode(frame []byte, msg *Message) error
}

// JSONCodec is the default codec; browsers on the WebSocket hub speak it.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Decode(frame []byte, msg *Message) error {
	return json.Unmarshal(frame, msg)
}

// MsgpackCodec is a compact binary codec used on the MQTT backend.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(msg Message) ([]byte, error) {
	return msgpack.Marshal(&msg)
}

func (MsgpackCodec) Decode(frame []byte, msg *Message) error {
	return msgpack.Unmarshal(frame, msg)
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}
