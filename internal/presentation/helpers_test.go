package presentation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proyektor/internal/models"
	"proyektor/internal/state"
	"proyektor/internal/transport"
)

const testChannel = "presentation"

// peerBehavior scripts how a fake display answers.
type peerBehavior struct {
	silentReady   bool
	silentPong    bool
	ignoreContent bool
	ackStatus     models.AckStatus
}

// fakePeer is a scripted display on the hub.
type fakePeer struct {
	ep       *transport.Endpoint
	behavior peerBehavior

	mu       sync.Mutex
	received []transport.Message
}

func newFakePeer(b transport.Backend, behavior peerBehavior) *fakePeer {
	p := &fakePeer{ep: transport.NewEndpoint(b), behavior: behavior}
	p.ep.OnMessage(p.onMessage)
	return p
}

func (p *fakePeer) start() {
	p.ep.Start()
	if !p.behavior.silentReady {
		_ = p.ep.Post(transport.TypeReady, nil)
	}
}

func (p *fakePeer) onMessage(msg transport.Message) {
	p.mu.Lock()
	p.received = append(p.received, msg)
	p.mu.Unlock()

	switch msg.Type {
	case transport.TypeHeartbeat, transport.TypePing:
		if !p.behavior.silentPong {
			_ = p.ep.PostWithID(transport.TypePong, msg.ID, msg.Data)
		}
	case transport.TypeContent:
		if p.behavior.ignoreContent {
			return
		}
		status := p.behavior.ackStatus
		if status == "" {
			status = models.AckSuccess
		}
		_ = p.ep.PostWithID(transport.TypeContentAck, msg.ID, models.Ack{ID: msg.ID, Status: status, Message: "render failed"})
	}
}

func (p *fakePeer) messages(t transport.MessageType) []transport.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []transport.Message
	for _, msg := range p.received {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

func (p *fakePeer) contentTimestamps(t *testing.T) []int64 {
	t.Helper()
	var out []int64
	for _, msg := range p.messages(transport.TypeContent) {
		var c models.Content
		if err := msg.Decode(&c); err != nil {
			t.Fatalf("peer got undecodable content: %v", err)
		}
		out = append(out, c.Timestamp)
	}
	return out
}

type fakeWindow struct {
	geometry models.WindowPosition
	peer     *fakePeer
	closed   atomic.Bool
	focused  atomic.Int32
}

func (w *fakeWindow) Closed() bool { return w.closed.Load() }

func (w *fakeWindow) Focus() error {
	w.focused.Add(1)
	return nil
}

func (w *fakeWindow) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		w.peer.ep.Close()
	}
	return nil
}

func (w *fakeWindow) Geometry() models.WindowPosition { return w.geometry }

// fakeOpener opens fake windows whose peers join the hub.
type fakeOpener struct {
	hub *transport.Hub

	mu       sync.Mutex
	opens    int
	fail     func(n int) bool
	behavior func(n int) peerBehavior
	windows  []*fakeWindow
}

func (o *fakeOpener) Open(_ context.Context, _ string, placement models.WindowPosition) (Window, error) {
	o.mu.Lock()
	o.opens++
	n := o.opens
	o.mu.Unlock()

	if o.fail != nil && o.fail(n) {
		return nil, errors.New("popup blocked")
	}

	var behavior peerBehavior
	if o.behavior != nil {
		behavior = o.behavior(n)
	}

	b, err := o.hub.Join(testChannel)
	if err != nil {
		return nil, err
	}
	peer := newFakePeer(b, behavior)
	w := &fakeWindow{geometry: placement, peer: peer}

	o.mu.Lock()
	o.windows = append(o.windows, w)
	o.mu.Unlock()

	peer.start()
	return w, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func (o *fakeOpener) window(i int) *fakeWindow {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.windows) {
		return nil
	}
	return o.windows[i]
}

func testOptions() Options {
	return Options{
		HeartbeatInterval:    20 * time.Millisecond,
		MaxMissedHeartbeats:  3,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       10 * time.Millisecond,
		ReadyAttempts:        10,
		ReadyPollInterval:    10 * time.Millisecond,
		PositionPollInterval: 5 * time.Millisecond,
		AckTimeout:           200 * time.Millisecond,
		PingTimeout:          200 * time.Millisecond,
		QueueCapacity:        16,
		HistoryLimit:         50,
	}
}

type harness struct {
	c      *Coordinator
	hub    *transport.Hub
	opener *fakeOpener

	mu     sync.Mutex
	states []ConnState
	errs   []error
}

func newHarness(t *testing.T, opener *fakeOpener, transitionMs int, mod func(*Options, *Deps)) *harness {
	t.Helper()

	hub := transport.NewHub()
	if opener == nil {
		opener = &fakeOpener{}
	}
	opener.hub = hub

	initial := state.Initial()
	initial.Config.TransitionMs = transitionMs

	opts := testOptions()
	deps := Deps{
		Dial: func(context.Context) (transport.Backend, error) {
			return hub.Join(testChannel)
		},
		Opener: opener,
		Store:  state.New(initial),
	}
	if mod != nil {
		mod(&opts, &deps)
	}

	c, err := New(deps, opts)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	h := &harness{c: c, hub: hub, opener: opener}
	c.SubscribeConnState(func(s ConnState) {
		h.mu.Lock()
		h.states = append(h.states, s)
		h.mu.Unlock()
	})
	c.SubscribeErrors(func(err error) {
		h.mu.Lock()
		h.errs = append(h.errs, err)
		h.mu.Unlock()
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start coordinator: %v", err)
	}

	t.Cleanup(func() {
		c.Close()
		hub.Close()
	})
	return h
}

func (h *harness) countState(s ConnState) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, got := range h.states {
		if got == s {
			n++
		}
	}
	return n
}

func (h *harness) countErrors(target error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, err := range h.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

func (h *harness) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errs)
}

func verse(ref string) models.VersePayload {
	return models.VersePayload{Text: "In the beginning...", Reference: ref}
}

func stamped(ts int64, ref string) models.Content {
	c := models.NewContent(verse(ref))
	c.Timestamp = ts
	return c
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}
