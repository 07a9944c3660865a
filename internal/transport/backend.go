package transport

import (
	"errors"
	"fmt"
)

// Backend moves encoded frames between the members of one named channel.
//
// Frames returned by Frames are the frames sent by OTHER members; a Backend
// may or may not echo a member's own frames (Endpoint filters them either
// way). The Frames channel is closed when the backend is closed or loses its
// connection.
type Backend interface {
	Send(frame []byte) error
	Frames() <-chan []byte
	Close() error
}

var (
	// ErrClosed is returned when sending on a closed backend.
	ErrClosed = errors.New("transport: channel closed")

	// ErrSendTimeout is returned when a backend could not hand a frame off in time.
	ErrSendTimeout = errors.New("transport: send timed out")
)

// TransportError reports a failure to send or receive on the channel.
type TransportError struct {
	// Op is one of: encode|send|decode|receive
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
