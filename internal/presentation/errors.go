package presentation

import (
	"errors"
	"fmt"
)

var (
	// ErrWindowUnavailable is returned when the display window could not be created.
	ErrWindowUnavailable = errors.New("presentation window unavailable")

	// ErrReadyTimeout is returned when the display never announced readiness.
	ErrReadyTimeout = errors.New("display did not become ready")

	// ErrAckTimeout marks an unconfirmed content item. It is logged, never fatal.
	ErrAckTimeout = errors.New("acknowledgement timed out")

	// ErrConnectionLost drives the reconnection protocol.
	ErrConnectionLost = errors.New("connection to display lost")

	// ErrRetryBudgetExhausted is reported once when reconnection gives up.
	ErrRetryBudgetExhausted = errors.New("could not reconnect to the presentation window")

	// ErrNotInHistory is returned by RecallContent for an unknown timestamp.
	ErrNotInHistory = errors.New("content not found in history")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
)

// PeerError is an error reported by the display.
type PeerError struct {
	Message   string
	Timestamp int64
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("display error: %s", e.Message)
}
