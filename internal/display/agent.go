// Package display implements the display side of the projection: an Agent
// that mirrors what the coordinator sends, renders it and answers liveness
// pings, plus the window openers the coordinator uses to start one.
package display

import (
	"strconv"
	"sync"
	"time"

	"proyektor/internal/logger"
	"proyektor/internal/models"
	"proyektor/internal/presentation"
	"proyektor/internal/state"
	"proyektor/internal/transport"
)

const historyLimit = 50

func capHistory(h []models.Content) []models.Content {
	if len(h) > historyLimit {
		return h[len(h)-historyLimit:]
	}
	return h
}

// Frame is everything a renderer needs to draw the projection.
type Frame struct {
	Config  models.PresentationConfig
	Content *models.Content
	Black   bool
}

// Renderer draws frames.
type Renderer interface {
	Render(f Frame) error
}

// Agent is the display peer of the coordinator. It keeps its own store and
// never writes to the coordinator's.
type Agent struct {
	ep       *transport.Endpoint
	store    *state.Store
	renderer Renderer

	geometry *models.WindowPosition
	epOpts   []transport.EndpointOption

	mu    sync.Mutex
	black bool

	startOnce sync.Once
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithGeometry makes the agent report its window position after ready.
func WithGeometry(pos models.WindowPosition) AgentOption {
	return func(a *Agent) {
		a.geometry = &pos
	}
}

// WithCodec sets the envelope codec of the agent's endpoint.
func WithCodec(c transport.Codec) AgentOption {
	return func(a *Agent) {
		a.epOpts = append(a.epOpts, transport.WithCodec(c))
	}
}

// NewAgent creates an agent on a joined backend.
func NewAgent(b transport.Backend, r Renderer, opts ...AgentOption) *Agent {
	a := &Agent{
		store:    state.New(state.Initial()),
		renderer: r,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.ep = transport.NewEndpoint(b, a.epOpts...)
	a.ep.Handle(transport.TypeInit, a.onInit)
	a.ep.Handle(transport.TypeContent, a.onContent)
	a.ep.Handle(transport.TypeHeartbeat, a.onPing)
	a.ep.Handle(transport.TypePing, a.onPing)
	a.ep.Handle(transport.TypeConfig, a.onConfig)
	a.ep.Handle(transport.TypeClear, a.onClear)
	a.ep.Handle(transport.TypeBlackScreen, a.onBlackScreen)
	a.ep.Handle(transport.TypeSync, a.onSync)
	a.ep.OnError(func(err error) {
		logger.Warn("display channel error", "error", err)
	})
	return a
}

// Start begins dispatching and announces readiness. Only the first call
// has any effect.
func (a *Agent) Start() error {
	var err error
	a.startOnce.Do(func() {
		a.ep.Start()
		if err = a.ep.Post(transport.TypeReady, nil); err != nil {
			return
		}
		logger.Info("display ready", "sender", a.ep.SenderID())
		if a.geometry != nil {
			err = a.ReportWindowState(*a.geometry)
		}
	})
	return err
}

// Done is closed once the agent stopped receiving.
func (a *Agent) Done() <-chan struct{} {
	return a.ep.Done()
}

func (a *Agent) Close() error {
	return a.ep.Close()
}

// Snapshot returns the display's local mirror of the state.
func (a *Agent) Snapshot() state.State {
	return a.store.Snapshot()
}

// BlackScreen reports whether the projection is blanked.
func (a *Agent) BlackScreen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.black
}

func (a *Agent) render() error {
	snap := a.store.Snapshot()
	if a.renderer == nil {
		return nil
	}
	return a.renderer.Render(Frame{
		Config:  snap.Config,
		Content: snap.CurrentContent,
		Black:   a.BlackScreen(),
	})
}

func (a *Agent) rerender() {
	if err := a.render(); err != nil {
		logger.Warn("render failed", "error", err)
		a.postError(err.Error())
	}
}

func (a *Agent) postError(message string) {
	notice := models.ErrorNotice{Message: message, Timestamp: time.Now().UnixMilli()}
	if err := a.ep.Post(transport.TypeError, notice); err != nil {
		logger.Warn("failed to report display error", "error", err)
	}
}

func (a *Agent) onInit(msg transport.Message) {
	var payload presentation.InitPayload
	if err := msg.Decode(&payload); err != nil {
		a.postError("invalid init: " + err.Error())
		return
	}
	a.store.Update(func(st *state.State) {
		st.Config = payload.Config
		st.CurrentContent = payload.Content
	})
	a.rerender()
}

// onContent applies content and acknowledges it, correlated by the message
// id or, without one, by the content timestamp.
func (a *Agent) onContent(msg transport.Message) {
	var content models.Content
	if err := msg.Decode(&content); err != nil {
		logger.Warn("rejected invalid content", "id", msg.ID, "error", err)
		a.postError(err.Error())
		if msg.ID != "" {
			a.ack(models.Ack{ID: msg.ID, Status: models.AckError, Message: err.Error()})
		}
		return
	}

	id := msg.ID
	if id == "" {
		id = strconv.FormatInt(content.Timestamp, 10)
	}

	current := a.store.Snapshot().CurrentContent
	if current == nil || current.Timestamp != content.Timestamp {
		a.store.Update(func(st *state.State) {
			c := content
			st.CurrentContent = &c
			st.ContentHistory = capHistory(append(st.ContentHistory, content))
		})
		if err := a.render(); err != nil {
			a.ack(models.Ack{ID: id, Status: models.AckError, Message: err.Error()})
			return
		}
	}

	a.ack(models.Ack{ID: id, Status: models.AckSuccess})
}

func (a *Agent) ack(ack models.Ack) {
	if err := a.ep.PostWithID(transport.TypeContentAck, ack.ID, ack); err != nil {
		logger.Warn("failed to acknowledge content", "id", ack.ID, "error", err)
	}
}

// onPing answers heartbeats and pings with a pong carrying the same data.
func (a *Agent) onPing(msg transport.Message) {
	var data any
	if msg.HasData() {
		data = msg.Data
	}
	if err := a.ep.PostWithID(transport.TypePong, msg.ID, data); err != nil {
		logger.Warn("failed to answer ping", "type", msg.Type, "error", err)
	}
}

func (a *Agent) onConfig(msg transport.Message) {
	var patch models.ConfigPatch
	if err := msg.Decode(&patch); err != nil {
		a.postError("invalid config: " + err.Error())
		return
	}

	a.store.Update(func(st *state.State) { st.Config = st.Config.Apply(patch) })
	a.rerender()

	// Full screen is owned by the display; confirm what it actually did.
	if patch.IsFullScreen != nil {
		on := *patch.IsFullScreen
		if err := a.ep.Post(transport.TypeConfig, models.ConfigPatch{IsFullScreen: &on}); err != nil {
			logger.Warn("failed to confirm full screen", "error", err)
		}
	}
}

func (a *Agent) onClear(transport.Message) {
	a.store.Update(func(st *state.State) { st.CurrentContent = nil })
	a.rerender()
}

func (a *Agent) onBlackScreen(msg transport.Message) {
	var bs presentation.BlackScreen
	if err := msg.Decode(&bs); err != nil {
		a.postError("invalid blackscreen: " + err.Error())
		return
	}
	a.mu.Lock()
	a.black = bs.Active
	a.mu.Unlock()
	a.rerender()
}

func (a *Agent) onSync(msg transport.Message) {
	var payload presentation.SyncPayload
	if err := msg.Decode(&payload); err != nil {
		a.postError("invalid sync: " + err.Error())
		return
	}
	a.store.Update(func(st *state.State) {
		st.Config = payload.Config
		st.CurrentContent = payload.Content
		st.ContentHistory = capHistory(append([]models.Content{}, payload.History...))
	})
	a.rerender()
}

// SetFullScreen records a full screen change made on the display and tells
// the coordinator.
func (a *Agent) SetFullScreen(on bool) error {
	a.store.Update(func(st *state.State) { st.Config.IsFullScreen = on })
	return a.ep.Post(transport.TypeConfig, models.ConfigPatch{IsFullScreen: &on})
}

// ReportWindowState tells the coordinator where the display window is.
func (a *Agent) ReportWindowState(pos models.WindowPosition) error {
	a.store.Update(func(st *state.State) { st.WindowState = pos })
	return a.ep.Post(transport.TypeWindowState, pos)
}
