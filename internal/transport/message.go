// Package transport implements the Transport Channel: a named, unordered,
// at-most-once broadcast bus shared by the controller and the display.
//
// Frames travel over a Backend (the in-process Hub, a WebSocket connection
// to a Hub, or an MQTT topic). An Endpoint wraps a Backend, encodes messages
// with a Codec, stamps them with a sender id and dispatches inbound messages
// on a single goroutine after filtering the endpoint's own echoes.
//
// Nothing at this layer retries. Delivery is best effort: a member whose
// inbox is full loses the frame.
package transport

import (
	"encoding/json"
	"errors"
)

// MessageType discriminates messages on the channel.
type MessageType string

const (
	TypeReady       MessageType = "ready"
	TypeHeartbeat   MessageType = "heartbeat"
	TypePong        MessageType = "pong"
	TypePing        MessageType = "ping"
	TypeContent     MessageType = "content"
	TypeContentAck  MessageType = "contentAck"
	TypeConfig      MessageType = "config"
	TypeInit        MessageType = "init"
	TypeSync        MessageType = "sync"
	TypeError       MessageType = "error"
	TypeClear       MessageType = "clear"
	TypeBlackScreen MessageType = "blackscreen"
	TypeWindowState MessageType = "windowState"
)

// Message is the envelope exchanged on the channel. Data is a JSON document
// so browser displays can read it regardless of the envelope codec.
type Message struct {
	Type     MessageType     `json:"type" msgpack:"type"`
	ID       string          `json:"id,omitempty" msgpack:"id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`
	SenderID string          `json:"senderId" msgpack:"senderId"`
}

// ErrNoData is returned by Decode when the message carries no data.
var ErrNoData = errors.New("message has no data")

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return ErrNoData
	}
	return json.Unmarshal(m.Data, v)
}

// HasData reports whether the message carries a payload.
func (m Message) HasData() bool {
	return len(m.Data) > 0 && string(m.Data) != "null"
}
