package presentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"proyektor/internal/logger"
	"proyektor/internal/models"
	"proyektor/internal/state"
	"proyektor/internal/transport"
)

// InitPayload is the data of an init message.
type InitPayload struct {
	Config  models.PresentationConfig `json:"config"`
	Content *models.Content           `json:"content"`
}

// heartbeatLoop pings the display every interval. Misses only count once
// the display has answered ready; before that the ready wait bounds the open.
func (c *Coordinator) heartbeatLoop(sess *session) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.session != sess || sess.ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		if !c.connected {
			c.mu.Unlock()
			continue
		}
		if c.pongPending {
			c.missed++
		}
		missed := c.missed
		c.pongPending = true
		c.mu.Unlock()

		if missed >= c.opts.MaxMissedHeartbeats {
			c.handleConnectionLost(sess, fmt.Errorf("%w: %d heartbeats missed", ErrConnectionLost, missed))
			return
		}

		if missed > 0 {
			logger.Debug("heartbeat missed", "missed", missed)
		}
		if err := c.post(transport.TypeHeartbeat, time.Now().UnixMilli()); err != nil {
			c.reportError(err)
		}
	}
}

// handleConnectionLost starts the reconnection protocol. It is a no-op when
// the connection is already down or sess is no longer current.
func (c *Coordinator) handleConnectionLost(sess *session, cause error) {
	c.mu.Lock()
	if !c.connected || c.closed || (sess != nil && c.session != sess) {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.reconnecting = true
	ctx, cancel := context.WithCancel(c.ctx)
	if c.reconnectCancel != nil {
		c.reconnectCancel()
	}
	c.reconnectCancel = cancel
	c.mu.Unlock()

	c.reportError(cause)
	c.setConnState(StateReconnecting)

	go c.reconnect(ctx)
}

// reconnect retries the window up to the budget. Giving up is reported once
// and leaves the coordinator closed.
func (c *Coordinator) reconnect(ctx context.Context) {
	for {
		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		if c.reconnectAttempts >= c.opts.MaxReconnectAttempts {
			attempts := c.reconnectAttempts
			first := !c.exhausted
			c.exhausted = true
			c.reconnecting = false
			c.reconnectCancel = nil
			c.mu.Unlock()

			c.cleanup()
			c.setConnState(StateClosed)
			if first {
				c.reportError(fmt.Errorf("%w after %d attempts", ErrRetryBudgetExhausted, attempts))
			}
			return
		}
		c.reconnectAttempts++
		attempt := c.reconnectAttempts
		var w Window
		if c.session != nil {
			w = c.session.window
		}
		c.mu.Unlock()

		logger.Info("reconnecting presentation window", "attempt", attempt, "max", c.opts.MaxReconnectAttempts)

		if w != nil && !w.Closed() {
			_ = w.Close()
		}
		c.cleanup()

		if !sleepCtx(ctx, c.opts.ReconnectDelay) {
			return
		}

		err := c.openWindow(ctx, nil)
		if err == nil {
			c.mu.Lock()
			c.reconnecting = false
			c.reconnectCancel = nil
			c.mu.Unlock()
			logger.Info("presentation window reconnected", "attempt", attempt)
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Warn("reconnection attempt failed", "attempt", attempt, "error", err)
	}
}

func (c *Coordinator) onReady(msg transport.Message) {
	c.mu.Lock()
	sess, pending := c.session, false
	if sess == nil && c.opening != nil {
		sess, pending = c.opening, true
	}
	if sess != nil {
		c.connected = true
		c.missed = 0
		c.pongPending = false
		c.reconnectAttempts = 0
		c.exhausted = false
	}
	c.mu.Unlock()

	// init goes out before the opener is released so it precedes any content.
	snap := c.store.Snapshot()
	if err := c.post(transport.TypeInit, InitPayload{Config: snap.Config, Content: snap.CurrentContent}); err != nil {
		c.reportError(err)
	}

	switch {
	case sess == nil:
		logger.Debug("ready from a display without a window", "sender", msg.SenderID)
	case pending:
		sess.markReady()
	default:
		sess.markReady()
		c.setConnState(StateConnected)
	}
}

func (c *Coordinator) onPong(msg transport.Message) {
	c.mu.Lock()
	c.pongPending = false
	c.missed = 0
	var answered chan struct{}
	if msg.ID != "" {
		answered = c.pings[msg.ID]
		delete(c.pings, msg.ID)
	}
	c.mu.Unlock()

	if answered != nil {
		close(answered)
	}
}

func (c *Coordinator) onContentAck(msg transport.Message) {
	var ack models.Ack
	if err := msg.Decode(&ack); err != nil {
		c.reportError(&models.InvalidContentError{Kind: string(transport.TypeContentAck), Reason: err.Error()})
		return
	}
	if ack.ID == "" {
		ack.ID = msg.ID
	}
	if err := ack.Validate(); err != nil {
		c.reportError(err)
		return
	}

	c.mu.Lock()
	c.recordAckLocked(ack)
	waiters := c.acks[ack.ID]
	delete(c.acks, ack.ID)
	sess := c.session
	c.mu.Unlock()

	for _, waiter := range waiters {
		select {
		case waiter <- ack:
		default:
		}
	}

	if ack.Status == models.AckError {
		message := ack.Message
		if message == "" {
			message = "content rejected"
		}
		c.reportError(&PeerError{Message: message})
		c.handleConnectionLost(sess, fmt.Errorf("%w: display reported an error for %s", ErrConnectionLost, ack.ID))
	}
}

func (c *Coordinator) onConfig(msg transport.Message) {
	var patch models.ConfigPatch
	if err := msg.Decode(&patch); err != nil {
		c.reportError(&models.InvalidContentError{Kind: string(transport.TypeConfig), Reason: err.Error()})
		return
	}
	if err := c.ApplyConfig(patch); err != nil {
		c.reportError(err)
	}
}

func (c *Coordinator) onWindowState(msg transport.Message) {
	var pos models.WindowPosition
	if err := msg.Decode(&pos); err != nil {
		c.reportError(&models.InvalidContentError{Kind: string(transport.TypeWindowState), Reason: err.Error()})
		return
	}
	c.store.Update(func(st *state.State) { st.WindowState = pos })
}

func (c *Coordinator) onPeerError(msg transport.Message) {
	var notice models.ErrorNotice
	if err := msg.Decode(&notice); err != nil {
		notice.Message = "unreadable error from display"
	}
	c.reportError(&PeerError{Message: notice.Message, Timestamp: notice.Timestamp})
}

// WaitForAcknowledgement reports whether the display acknowledged content
// with success before the timeout. Content that is queued or transitioning
// is awaited as is; content the display is already showing is posted again
// so it confirms it; anything else goes through the queue like ShowContent.
// The timeout starts once every transition queued ahead has run. It is a
// soft failure: it is logged and yields false.
func (c *Coordinator) WaitForAcknowledgement(ctx context.Context, content models.Content) bool {
	id := ackID(content)
	snap := c.store.Snapshot()
	current := snap.CurrentContent

	c.mu.Lock()
	if ack, ok := c.acked[id]; ok {
		c.mu.Unlock()
		return ack.Status == models.AckSuccess
	}
	waiter := make(chan models.Ack, 1)
	c.acks[id] = append(c.acks[id], waiter)
	pending := c.isPendingLocked(content.Timestamp)
	showing := !c.transitioning && current != nil && current.Timestamp == content.Timestamp
	c.mu.Unlock()

	defer c.dropWaiter(id, waiter)

	switch {
	case pending:
	case showing:
		if err := c.postWithID(transport.TypeContent, id, content); err != nil {
			c.reportError(err)
			return false
		}
	default:
		if err := c.ShowContent(ctx, content); err != nil {
			logger.Warn("content not confirmed", "timestamp", content.Timestamp, "error", err)
			return false
		}
	}

	c.mu.Lock()
	ahead := c.transitionsAheadLocked(content.Timestamp)
	c.mu.Unlock()
	budget := c.opts.AckTimeout + time.Duration(ahead*snap.Config.TransitionMs)*time.Millisecond

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case ack := <-waiter:
		return ack.Status == models.AckSuccess
	case <-timer.C:
		logger.Warn("content not confirmed", "timestamp", content.Timestamp, "error", ErrAckTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) isPendingLocked(timestamp int64) bool {
	if c.transitioning && c.inFlight == timestamp {
		return true
	}
	for _, queued := range c.queue {
		if queued.Timestamp == timestamp {
			return true
		}
	}
	return false
}

// transitionsAheadLocked counts the transitions that run before content
// with the given timestamp is posted.
func (c *Coordinator) transitionsAheadLocked(timestamp int64) int {
	if !c.transitioning || c.inFlight == timestamp {
		return 0
	}
	for i, queued := range c.queue {
		if queued.Timestamp == timestamp {
			return i + 1
		}
	}
	return 0
}

func (c *Coordinator) dropWaiter(id string, waiter chan models.Ack) {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiters := c.acks[id]
	for i, w := range waiters {
		if w == waiter {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(c.acks, id)
		return
	}
	c.acks[id] = waiters
}

// recordAckLocked remembers the latest acks so a waiter registered after
// the display answered still sees the result.
func (c *Coordinator) recordAckLocked(ack models.Ack) {
	if _, ok := c.acked[ack.ID]; !ok {
		c.ackOrder = append(c.ackOrder, ack.ID)
	}
	c.acked[ack.ID] = ack
	for len(c.ackOrder) > ackMemory {
		delete(c.acked, c.ackOrder[0])
		c.ackOrder = c.ackOrder[1:]
	}
}

// CheckConnection pings the display and reports whether it answered in time.
func (c *Coordinator) CheckConnection(ctx context.Context) bool {
	if !c.IsWindowOpen() {
		return false
	}

	id := uuid.NewString()
	answered := make(chan struct{})

	c.mu.Lock()
	c.pings[id] = answered
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pings, id)
		c.mu.Unlock()
	}()

	if err := c.postWithID(transport.TypePing, id, time.Now().UnixMilli()); err != nil {
		c.reportError(err)
		return false
	}

	timer := time.NewTimer(c.opts.PingTimeout)
	defer timer.Stop()

	select {
	case <-answered:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// forgetAckLocked drops a remembered ack once the content is shown again.
func (c *Coordinator) forgetAckLocked(id string) {
	if _, ok := c.acked[id]; !ok {
		return
	}
	delete(c.acked, id)
	for i, known := range c.ackOrder {
		if known == id {
			c.ackOrder = append(c.ackOrder[:i], c.ackOrder[i+1:]...)
			break
		}
	}
}

// ackMemory bounds the acks kept for late waiters.
const ackMemory = 64

// ackID is the correlation id a display uses for content posted without one.
func ackID(content models.Content) string {
	return strconv.FormatInt(content.Timestamp, 10)
}
