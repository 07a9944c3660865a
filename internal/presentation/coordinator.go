// Package presentation implements the controller side of the projection: it
// owns the display window, keeps the display alive with heartbeats, queues
// content while a transition is running, tracks acknowledgements, reconnects
// with a bounded budget and persists the presentation state.
//
// Coordinator state is guarded by one mutex that is never held while posting
// on the channel, updating the store, sleeping or calling subscribers. Timers
// belong to a window session and are cancelled together with it.
package presentation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"proyektor/internal/logger"
	"proyektor/internal/models"
	"proyektor/internal/state"
	"proyektor/internal/transport"
)

// ConnState is the connection lifecycle of the display window.
type ConnState int

const (
	StateClosed ConnState = iota
	StateOpening
	StateAwaitingReady
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateAwaitingReady:
		return "awaitingReady"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ChannelFactory joins the transport channel.
type ChannelFactory func(ctx context.Context) (transport.Backend, error)

// FontLoader warms fonts before the first render.
type FontLoader interface {
	Preload(ctx context.Context, families ...string) error
	LoadStylesheet(ctx context.Context, url string) ([]string, error)
	WaitForFont(ctx context.Context, family string, timeout time.Duration) error
}

// ContentRecorder keeps a log of content that became current.
type ContentRecorder interface {
	Record(ctx context.Context, content models.Content) error
}

// Deps are the coordinator's collaborators. Dial and Opener are required.
type Deps struct {
	Dial     ChannelFactory
	Opener   WindowOpener
	Screens  ScreenProvider
	Store    *state.Store
	Storage  state.Storage
	Fonts    FontLoader
	Recorder ContentRecorder
	Codec    transport.Codec
}

// session is one opened window and the timers bound to it.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	window Window

	ready     chan struct{}
	readyOnce sync.Once
}

func (s *session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Coordinator is the presentation coordinator.
type Coordinator struct {
	opts  Options
	deps  Deps
	store *state.Store

	ctx    context.Context
	cancel context.CancelFunc

	openMu   sync.Mutex
	commitMu sync.Mutex

	mu                sync.Mutex
	endpoint          *transport.Endpoint
	session           *session
	opening           *session
	connected         bool
	missed            int
	pongPending       bool
	reconnecting      bool
	reconnectAttempts int
	reconnectCancel   context.CancelFunc
	exhausted         bool
	transitioning     bool
	inFlight          int64
	queue             []models.Content
	epoch             uint64
	lastTimestamp     int64
	blackScreen       bool
	acks              map[string][]chan models.Ack
	acked             map[string]models.Ack
	ackOrder          []string
	pings             map[string]chan struct{}
	started           bool
	closed            bool

	connNotifyMu sync.Mutex
	connMu       sync.Mutex
	connState    ConnState
	connSubs     map[int]func(ConnState)

	errMu   sync.Mutex
	errSubs map[int]func(error)
	nextSub int

	fontReady atomic.Bool
}

// New creates a coordinator. Call Start before using it.
func New(deps Deps, opts Options) (*Coordinator, error) {
	if deps.Dial == nil {
		return nil, errors.New("presentation: channel factory is required")
	}
	if deps.Opener == nil {
		return nil, errors.New("presentation: window opener is required")
	}
	if deps.Store == nil {
		deps.Store = state.New(state.Initial())
	}
	if deps.Codec == nil {
		deps.Codec = transport.JSONCodec{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		opts:     opts.withDefaults(),
		deps:     deps,
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
		acks:     make(map[string][]chan models.Ack),
		acked:    make(map[string]models.Ack),
		pings:    make(map[string]chan struct{}),
		connSubs: make(map[int]func(ConnState)),
		errSubs:  make(map[int]func(error)),
	}, nil
}

// Start restores the persisted state, joins the channel and preloads fonts.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if c.deps.Storage != nil {
		c.loadSavedState(ctx)
		c.store.Subscribe(func(st state.State) {
			if err := state.Save(c.ctx, c.deps.Storage, st); err != nil {
				logger.Error("failed to persist presentation state", "error", err)
			}
		})
	}

	if err := c.bindChannel(ctx); err != nil {
		return err
	}

	if c.deps.Fonts != nil {
		family := c.store.Snapshot().Config.FontFamily
		families := append([]string{}, c.opts.Fonts...)
		families = append(families, family)
		if err := c.deps.Fonts.Preload(ctx, families...); err != nil {
			logger.Warn("font preloading failed", "error", err)
		}
		go c.loadFonts(family)
	}

	logger.Info("presentation coordinator started", "sender", c.endpointID())
	return nil
}

// loadFonts registers the families of the configured stylesheets, then
// waits for the presentation family to resolve.
func (c *Coordinator) loadFonts(family string) {
	for _, url := range c.opts.FontStylesheets {
		if _, err := c.deps.Fonts.LoadStylesheet(c.ctx, url); err != nil {
			logger.Warn("font stylesheet not loaded", "url", url, "error", err)
		}
	}

	if err := c.deps.Fonts.WaitForFont(c.ctx, family, c.opts.FontWait); err != nil {
		if c.ctx.Err() == nil {
			logger.Warn("presentation font unavailable, display falls back", "family", family, "error", err)
		}
		return
	}
	c.fontReady.Store(true)
	logger.Debug("presentation font ready", "family", family)
}

// FontReady reports whether the configured font family has resolved.
func (c *Coordinator) FontReady() bool { return c.fontReady.Load() }

// loadSavedState restores the snapshot once. No window survives a restart,
// so the window flags are reconciled to false.
func (c *Coordinator) loadSavedState(ctx context.Context) {
	saved, ok, err := state.Load(ctx, c.deps.Storage)
	if errors.Is(err, state.ErrCorrupt) {
		logger.Warn("saved presentation state is unreadable, discarding it", "error", err)
		if _, err := state.Discard(ctx, c.deps.Storage); err != nil {
			logger.Error("failed to discard saved presentation state", "error", err)
		}
		return
	}
	if err != nil {
		logger.Warn("failed to load saved presentation state", "error", err)
		return
	}
	if !ok {
		return
	}

	saved.Config.IsWindowOpen = false
	saved.Config.IsFullScreen = false
	if n := len(saved.ContentHistory); n > c.opts.HistoryLimit {
		saved.ContentHistory = saved.ContentHistory[n-c.opts.HistoryLimit:]
	}
	c.store.Update(func(st *state.State) { *st = saved })

	c.mu.Lock()
	for _, item := range saved.ContentHistory {
		if item.Timestamp > c.lastTimestamp {
			c.lastTimestamp = item.Timestamp
		}
	}
	c.mu.Unlock()

	logger.Info("restored presentation state", "history", len(saved.ContentHistory))
}

func (c *Coordinator) bindChannel(ctx context.Context) error {
	backend, err := c.deps.Dial(ctx)
	if err != nil {
		return &transport.TransportError{Op: "receive", Err: fmt.Errorf("join channel: %w", err)}
	}

	ep := transport.NewEndpoint(backend, transport.WithCodec(c.deps.Codec))
	ep.Handle(transport.TypeReady, c.onReady)
	ep.Handle(transport.TypePong, c.onPong)
	ep.Handle(transport.TypeContentAck, c.onContentAck)
	ep.Handle(transport.TypeConfig, c.onConfig)
	ep.Handle(transport.TypeWindowState, c.onWindowState)
	ep.Handle(transport.TypeError, c.onPeerError)
	ep.OnError(func(err error) { c.onTransportError(ep, err) })

	c.mu.Lock()
	old := c.endpoint
	c.endpoint = ep
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	ep.Start()
	return nil
}

// onTransportError recreates the channel when the backend went away and
// hands the loss to the reconnection protocol.
func (c *Coordinator) onTransportError(ep *transport.Endpoint, err error) {
	c.reportError(err)

	var te *transport.TransportError
	if !errors.As(err, &te) || te.Op != "receive" {
		return
	}

	c.mu.Lock()
	current := c.endpoint == ep && !c.closed
	sess := c.session
	c.mu.Unlock()
	if !current {
		return
	}

	go func() {
		if err := c.bindChannel(c.ctx); err != nil {
			c.reportError(err)
			return
		}
		c.handleConnectionLost(sess, fmt.Errorf("%w: %v", ErrConnectionLost, err))
	}()
}

func (c *Coordinator) channel() *transport.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *Coordinator) endpointID() string {
	if ep := c.channel(); ep != nil {
		return ep.SenderID()
	}
	return ""
}

func (c *Coordinator) post(t transport.MessageType, data any) error {
	ep := c.channel()
	if ep == nil {
		return &transport.TransportError{Op: "send", Err: transport.ErrClosed}
	}
	return ep.Post(t, data)
}

func (c *Coordinator) postWithID(t transport.MessageType, id string, data any) error {
	ep := c.channel()
	if ep == nil {
		return &transport.TransportError{Op: "send", Err: transport.ErrClosed}
	}
	return ep.PostWithID(t, id, data)
}

// Close closes the window and leaves the channel. It is idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.ClosePresentationWindow()
	c.cancel()

	c.mu.Lock()
	ep := c.endpoint
	c.endpoint = nil
	c.mu.Unlock()

	if ep != nil {
		return ep.Close()
	}
	return nil
}

// Store exposes the state store for read access and subscriptions.
func (c *Coordinator) Store() *state.Store {
	return c.store
}

func (c *Coordinator) Snapshot() state.State {
	return c.store.Snapshot()
}

// ContentHistory returns shown content, most recent last.
func (c *Coordinator) ContentHistory() []models.Content {
	return c.store.Snapshot().ContentHistory
}

// IsWindowOpen reports whether a live window handle exists.
func (c *Coordinator) IsWindowOpen() bool {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	return sess != nil && !sess.window.Closed()
}

// IsConnected reports whether the display answered since the window opened.
func (c *Coordinator) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// QueueLength is the number of items waiting for the running transition.
func (c *Coordinator) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Coordinator) ConnState() ConnState {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connState
}

// SubscribeConnState registers fn for every state change. Callbacks run
// synchronously, one change at a time, and must not open or close windows.
func (c *Coordinator) SubscribeConnState(fn func(ConnState)) (cancel func()) {
	c.connMu.Lock()
	id := c.nextSubID()
	c.connSubs[id] = fn
	c.connMu.Unlock()

	return func() {
		c.connMu.Lock()
		delete(c.connSubs, id)
		c.connMu.Unlock()
	}
}

func (c *Coordinator) setConnState(s ConnState) {
	c.connNotifyMu.Lock()
	defer c.connNotifyMu.Unlock()

	c.connMu.Lock()
	if c.connState == s {
		c.connMu.Unlock()
		return
	}
	prev := c.connState
	c.connState = s
	subs := make([]func(ConnState), 0, len(c.connSubs))
	for _, fn := range c.connSubs {
		subs = append(subs, fn)
	}
	c.connMu.Unlock()

	logger.Info("presentation connection state", "from", prev, "to", s)
	for _, fn := range subs {
		fn(s)
	}
}

// SubscribeErrors registers fn on the error stream.
func (c *Coordinator) SubscribeErrors(fn func(error)) (cancel func()) {
	c.errMu.Lock()
	id := c.nextSubID()
	c.errSubs[id] = fn
	c.errMu.Unlock()

	return func() {
		c.errMu.Lock()
		delete(c.errSubs, id)
		c.errMu.Unlock()
	}
}

func (c *Coordinator) nextSubID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	return c.nextSub
}

// reportError publishes err on the error stream and records it in the state.
func (c *Coordinator) reportError(err error) {
	if err == nil {
		return
	}
	logger.Warn("presentation error", "error", err)

	c.store.Update(func(st *state.State) { st.Error = err.Error() })

	c.errMu.Lock()
	subs := make([]func(error), 0, len(c.errSubs))
	for _, fn := range c.errSubs {
		subs = append(subs, fn)
	}
	c.errMu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
}

// OpenPresentationWindow opens the display on the last screen, or focuses
// the window that is already open.
func (c *Coordinator) OpenPresentationWindow(ctx context.Context) error {
	return c.openWindow(ctx, nil)
}

// OpenPresentationWindowOn opens the display centered on the given screen.
func (c *Coordinator) OpenPresentationWindowOn(ctx context.Context, screenID int) error {
	return c.openWindow(ctx, &screenID)
}

func (c *Coordinator) openWindow(ctx context.Context, screenID *int) error {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.session != nil && !c.session.window.Closed() {
		w := c.session.window
		c.mu.Unlock()
		if err := w.Focus(); err != nil {
			logger.Debug("failed to focus presentation window", "error", err)
		}
		return nil
	}
	reconnecting := c.reconnecting
	c.mu.Unlock()

	if !reconnecting {
		c.setConnState(StateOpening)
	}

	// The display may announce itself before Open returns; onReady credits
	// the pending session in that case.
	sessCtx, cancel := context.WithCancel(c.ctx)
	sess := &session{ctx: sessCtx, cancel: cancel, ready: make(chan struct{})}

	c.mu.Lock()
	c.opening = sess
	c.connected = false
	c.missed = 0
	c.pongPending = false
	c.mu.Unlock()

	placement := c.placement(ctx, screenID)
	w, err := c.deps.Opener.Open(ctx, c.opts.Route, placement)
	if err == nil && w == nil {
		err = errors.New("opener returned no window")
	}
	if err == nil && sessCtx.Err() != nil {
		_ = w.Close()
		err = errors.New("window closed while opening")
	}
	if err != nil {
		c.mu.Lock()
		if c.opening == sess {
			c.opening = nil
		}
		c.connected = false
		c.mu.Unlock()
		cancel()
		if !reconnecting {
			c.setConnState(StateClosed)
		}
		return fmt.Errorf("%w: %v", ErrWindowUnavailable, err)
	}
	sess.window = w

	if !reconnecting {
		c.setConnState(StateAwaitingReady)
	}

	c.mu.Lock()
	c.opening = nil
	c.session = sess
	c.mu.Unlock()

	select {
	case <-sess.ready:
		c.setConnState(StateConnected)
	default:
	}

	geometry := w.Geometry()
	c.store.Update(func(st *state.State) {
		st.Config.IsWindowOpen = true
		st.WindowState = geometry
	})
	logger.Info("presentation window opened", "x", geometry.X, "y", geometry.Y, "width", geometry.Width, "height", geometry.Height)

	go c.watchWindowPosition(sess)
	go c.heartbeatLoop(sess)

	if err := c.waitReady(ctx, sess); err != nil {
		if sess.window != nil && !sess.window.Closed() {
			_ = sess.window.Close()
		}
		c.cleanupSession(sess)
		if !reconnecting {
			c.setConnState(StateClosed)
		}
		return err
	}
	return nil
}

func (c *Coordinator) placement(ctx context.Context, screenID *int) models.WindowPosition {
	if c.deps.Screens == nil {
		return placeWindow(nil, screenID)
	}
	screens, err := c.deps.Screens.Screens(ctx)
	if err != nil {
		logger.Warn("failed to list screens", "error", err)
		screens = nil
	}
	return placeWindow(screens, screenID)
}

// waitReady polls for the display's ready signal.
func (c *Coordinator) waitReady(ctx context.Context, sess *session) error {
	ticker := time.NewTicker(c.opts.ReadyPollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.opts.ReadyAttempts; attempt++ {
		select {
		case <-sess.ready:
			return nil
		default:
		}

		select {
		case <-sess.ready:
			return nil
		case <-sess.ctx.Done():
			return fmt.Errorf("%w: window closed before ready", ErrWindowUnavailable)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	select {
	case <-sess.ready:
		return nil
	default:
	}
	return fmt.Errorf("%w after %d attempts", ErrReadyTimeout, c.opts.ReadyAttempts)
}

// ClosePresentationWindow closes the window if it is live and cleans up. It
// also cancels a running reconnection. Calling it again is harmless.
func (c *Coordinator) ClosePresentationWindow() {
	c.mu.Lock()
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
	c.reconnecting = false
	var w Window
	if c.session != nil {
		w = c.session.window
	}
	c.mu.Unlock()

	if w != nil && !w.Closed() {
		if err := w.Close(); err != nil {
			logger.Warn("failed to close presentation window", "error", err)
		}
	}
	c.cleanup()
	c.setConnState(StateClosed)
}

// cleanup cancels every timer of the current window, forgets the handle and
// resets the window-bound state.
func (c *Coordinator) cleanup() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	c.cleanupSession(sess)
}

// cleanupSession cleans up only if sess is still current (nil cleans the
// current session, whatever it is). Stale timers land here and do nothing.
func (c *Coordinator) cleanupSession(sess *session) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	if sess != nil && c.session != sess {
		c.mu.Unlock()
		return
	}
	current := c.session
	c.session = nil
	if sess == nil && c.opening != nil {
		c.opening.cancel()
		c.opening = nil
	}
	c.connected = false
	c.missed = 0
	c.pongPending = false
	c.blackScreen = false
	dropped := len(c.queue)
	c.queue = nil
	c.epoch++
	c.mu.Unlock()

	if current != nil {
		current.cancel()
	}

	c.store.Update(func(st *state.State) {
		st.Config.IsWindowOpen = false
		st.Config.IsFullScreen = false
		st.CurrentContent = nil
	})

	if dropped > 0 {
		logger.Info("discarded queued content on cleanup", "items", dropped)
	}
}

// watchWindowPosition mirrors the window geometry into the store until the
// session ends. A window closed from outside ends the session.
func (c *Coordinator) watchWindowPosition(sess *session) {
	ticker := time.NewTicker(c.opts.PositionPollInterval)
	defer ticker.Stop()

	last := sess.window.Geometry()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
		}

		if sess.ctx.Err() != nil {
			return
		}

		if sess.window.Closed() {
			logger.Info("presentation window closed externally")
			c.mu.Lock()
			current := c.session == sess
			reconnecting := c.reconnecting
			c.mu.Unlock()
			if !current {
				return
			}
			c.cleanupSession(sess)
			if !reconnecting {
				c.setConnState(StateClosed)
			}
			return
		}

		geometry := sess.window.Geometry()
		if geometry != last {
			last = geometry
			c.store.Update(func(st *state.State) { st.WindowState = geometry })
		}
	}
}

// UpdateConfig applies a local change and forwards it to the display.
func (c *Coordinator) UpdateConfig(patch models.ConfigPatch) error {
	if err := c.applyPatch(patch); err != nil {
		return err
	}
	if !c.IsWindowOpen() {
		return nil
	}
	if err := c.post(transport.TypeConfig, patch); err != nil {
		c.reportError(err)
		return err
	}
	return nil
}

// ResetConfig restores the default look and sends every field to the
// display. The window flags are kept, since they describe the window.
func (c *Coordinator) ResetConfig() (models.PresentationConfig, error) {
	current := c.store.Snapshot().Config
	next := models.DefaultConfig()
	next.IsWindowOpen = current.IsWindowOpen
	next.IsFullScreen = current.IsFullScreen

	if err := c.UpdateConfig(models.FullPatch(next)); err != nil {
		return current, err
	}
	return c.store.Snapshot().Config, nil
}

// ApplyConfig applies a change that came from the display. It is stored and
// persisted but never posted back.
func (c *Coordinator) ApplyConfig(patch models.ConfigPatch) error {
	return c.applyPatch(patch)
}

func (c *Coordinator) applyPatch(patch models.ConfigPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	next := c.store.Snapshot().Config.Apply(patch)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.store.Update(func(st *state.State) { st.Config = st.Config.Apply(patch) })
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
