package presentation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proyektor/internal/logger"
	"proyektor/internal/models"
	"proyektor/internal/state"
	"proyektor/internal/transport"
)

// SendContent stamps the payload and shows it, opening the window first if
// needed. It returns as soon as the content is transitioning or queued.
func (c *Coordinator) SendContent(ctx context.Context, payload models.Payload) (models.Content, error) {
	content := models.NewContent(payload)
	if err := content.Validate(); err != nil {
		return content, err
	}

	if err := c.ensureWindow(ctx); err != nil {
		return content, err
	}

	content.Timestamp = c.nextTimestamp()
	c.enqueue(content)
	return content, nil
}

// ShowContent shows an already stamped item again. An item with the same
// timestamp already waiting or transitioning is not queued twice.
func (c *Coordinator) ShowContent(ctx context.Context, content models.Content) error {
	if err := content.Validate(); err != nil {
		return err
	}
	if err := c.ensureWindow(ctx); err != nil {
		return err
	}
	c.enqueue(content)
	return nil
}

// RecallContent shows the history item with the given timestamp.
func (c *Coordinator) RecallContent(ctx context.Context, timestamp int64) (models.Content, error) {
	for _, item := range c.store.Snapshot().ContentHistory {
		if item.Timestamp == timestamp {
			return item, c.ShowContent(ctx, item)
		}
	}
	return models.Content{}, fmt.Errorf("%w: %d", ErrNotInHistory, timestamp)
}

func (c *Coordinator) ensureWindow(ctx context.Context) error {
	if c.IsWindowOpen() {
		return nil
	}
	if err := c.OpenPresentationWindow(ctx); err != nil {
		err = fmt.Errorf("failed to open presentation window: %w", err)
		c.reportError(err)
		return err
	}
	return nil
}

// nextTimestamp returns unix milliseconds, bumped past the last stamp when
// two sends land in the same millisecond.
func (c *Coordinator) nextTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := time.Now().UnixMilli()
	if ts <= c.lastTimestamp {
		ts = c.lastTimestamp + 1
	}
	c.lastTimestamp = ts
	return ts
}

// enqueue starts a transition, or queues the content behind the running one.
// It reports whether the content was accepted.
func (c *Coordinator) enqueue(content models.Content) bool {
	c.mu.Lock()
	if c.transitioning {
		if c.inFlight == content.Timestamp {
			c.mu.Unlock()
			return false
		}
		for _, queued := range c.queue {
			if queued.Timestamp == content.Timestamp {
				c.mu.Unlock()
				logger.Debug("content already queued", "timestamp", content.Timestamp)
				return false
			}
		}
		if len(c.queue) >= c.opts.QueueCapacity {
			dropped := c.queue[0]
			c.queue = c.queue[1:]
			logger.Warn("content queue full, dropping oldest", "timestamp", dropped.Timestamp, "capacity", c.opts.QueueCapacity)
		}
		c.queue = append(c.queue, content)
		c.forgetAckLocked(ackID(content))
		c.mu.Unlock()
		return true
	}

	c.transitioning = true
	c.inFlight = content.Timestamp
	c.forgetAckLocked(ackID(content))
	c.mu.Unlock()

	go c.drain(content)
	return true
}

// drain transitions content and then every queued item, one at a time. A
// failed transition stops the drain and discards what was still queued.
func (c *Coordinator) drain(next models.Content) {
	for {
		err := c.transition(next)

		c.mu.Lock()
		if err != nil || len(c.queue) == 0 {
			discarded := 0
			if err != nil {
				discarded = len(c.queue)
				c.queue = nil
			}
			c.transitioning = false
			c.inFlight = 0
			c.mu.Unlock()

			if err != nil && !errors.Is(err, ErrClosed) {
				if discarded > 0 {
					logger.Warn("content queue discarded after failed transition", "items", discarded)
				}
				c.reportError(err)
			}
			return
		}
		next = c.queue[0]
		c.queue = c.queue[1:]
		c.inFlight = next.Timestamp
		c.mu.Unlock()
	}
}

// transition broadcasts content, waits the configured transition time and
// commits it as current, unless a cleanup happened meanwhile.
func (c *Coordinator) transition(content models.Content) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	limit := c.opts.HistoryLimit
	snap := c.store.Update(func(st *state.State) {
		st.ContentHistory = append(st.ContentHistory, content)
		if n := len(st.ContentHistory); n > limit {
			st.ContentHistory = append([]models.Content{}, st.ContentHistory[n-limit:]...)
		}
	})

	if err := c.postWithID(transport.TypeContent, ackID(content), content); err != nil {
		return fmt.Errorf("failed to broadcast content %d: %w", content.Timestamp, err)
	}
	logger.Debug("content transitioning", "timestamp", content.Timestamp, "kind", content.Kind, "summary", content.Summary())

	if !sleepCtx(c.ctx, time.Duration(snap.Config.TransitionMs)*time.Millisecond) {
		return ErrClosed
	}

	c.commitMu.Lock()
	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		c.commitMu.Unlock()
		logger.Debug("window cleaned up during transition, not committing", "timestamp", content.Timestamp)
		return nil
	}
	c.store.Update(func(st *state.State) {
		current := content
		st.CurrentContent = &current
	})
	c.commitMu.Unlock()

	if c.deps.Recorder != nil {
		if err := c.deps.Recorder.Record(c.ctx, content); err != nil {
			logger.Warn("failed to record content", "timestamp", content.Timestamp, "error", err)
		}
	}
	return nil
}

// ClearContent blanks the display and forgets the current content.
func (c *Coordinator) ClearContent() error {
	c.commitMu.Lock()
	c.mu.Lock()
	c.epoch++
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()
	c.store.Update(func(st *state.State) { st.CurrentContent = nil })
	c.commitMu.Unlock()

	if dropped > 0 {
		logger.Info("discarded queued content on clear", "items", dropped)
	}
	if !c.IsWindowOpen() {
		return nil
	}
	return c.post(transport.TypeClear, nil)
}

// BlackScreen is the data of a blackscreen message.
type BlackScreen struct {
	Active bool `json:"active"`
}

// ToggleBlackScreen hides or shows the projection without clearing it and
// returns the new state. Without a window it fails and nothing changes.
func (c *Coordinator) ToggleBlackScreen() (bool, error) {
	if !c.IsWindowOpen() {
		return false, ErrWindowUnavailable
	}

	c.mu.Lock()
	c.blackScreen = !c.blackScreen
	active := c.blackScreen
	c.mu.Unlock()

	if err := c.post(transport.TypeBlackScreen, BlackScreen{Active: active}); err != nil {
		c.reportError(err)
		return active, err
	}
	return active, nil
}

// ToggleFullScreen asks the display to enter or leave full screen. The
// display confirms with a config message.
func (c *Coordinator) ToggleFullScreen() error {
	if !c.IsWindowOpen() {
		return ErrWindowUnavailable
	}
	want := !c.store.Snapshot().Config.IsFullScreen
	return c.post(transport.TypeConfig, models.ConfigPatch{IsFullScreen: &want})
}

// SyncPayload is the data of a sync message.
type SyncPayload struct {
	Config  models.PresentationConfig `json:"config"`
	Content *models.Content           `json:"content"`
	History []models.Content          `json:"history"`
}

// SyncState pushes the whole state to the display. It does nothing while no
// window is open.
func (c *Coordinator) SyncState() error {
	if !c.IsWindowOpen() {
		return nil
	}
	snap := c.store.Snapshot()
	return c.post(transport.TypeSync, SyncPayload{
		Config:  snap.Config,
		Content: snap.CurrentContent,
		History: snap.ContentHistory,
	})
}
