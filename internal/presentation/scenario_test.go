package presentation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proyektor/internal/display"
	"proyektor/internal/models"
	"proyektor/internal/presentation"
	"proyektor/internal/state"
	"proyektor/internal/transport"
)

const channel = "presentation"

type observer struct {
	ep *transport.Endpoint

	mu   sync.Mutex
	msgs []transport.Message
}

func observe(t *testing.T, hub *transport.Hub) *observer {
	t.Helper()
	b, err := hub.Join(channel)
	if err != nil {
		t.Fatal(err)
	}
	o := &observer{ep: transport.NewEndpoint(b)}
	o.ep.OnMessage(func(msg transport.Message) {
		o.mu.Lock()
		o.msgs = append(o.msgs, msg)
		o.mu.Unlock()
	})
	o.ep.Start()
	t.Cleanup(func() { o.ep.Close() })
	return o
}

func (o *observer) of(t transport.MessageType) []transport.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []transport.Message
	for _, msg := range o.msgs {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

type rig struct {
	c        *presentation.Coordinator
	hub      *transport.Hub
	recorder *display.Recorder
	obs      *observer

	mu   sync.Mutex
	errs []error
}

func newRig(t *testing.T) *rig {
	t.Helper()

	hub := transport.NewHub()
	recorder := &display.Recorder{}
	dial := func(context.Context) (transport.Backend, error) {
		return hub.Join(channel)
	}
	opener := &display.LocalOpener{
		Dial:     dial,
		Renderer: func() display.Renderer { return recorder },
	}

	initial := state.Initial()
	initial.Config.TransitionMs = 50

	c, err := presentation.New(presentation.Deps{
		Dial:   dial,
		Opener: opener,
		Store:  state.New(initial),
	}, presentation.Options{
		HeartbeatInterval: 50 * time.Millisecond,
		ReadyPollInterval: 10 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	r := &rig{c: c, hub: hub, recorder: recorder}
	c.SubscribeErrors(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.obs = observe(t, hub)

	t.Cleanup(func() {
		c.Close()
		hub.Close()
	})
	return r
}

func (r *rig) peerErrors() []*presentation.PeerError {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*presentation.PeerError
	for _, err := range r.errs {
		var pe *presentation.PeerError
		if errors.As(err, &pe) {
			out = append(out, pe)
		}
	}
	return out
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestVerseIsShownAndAcknowledged(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	content, err := r.c.SendContent(ctx, models.VersePayload{
		Text:      "For God so loved the world",
		Reference: "John 3:16",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	waitUntil(t, func() bool {
		cur := r.c.Snapshot().CurrentContent
		return cur != nil && cur.Timestamp == content.Timestamp
	}, "verse becomes current")

	if n := len(r.obs.of(transport.TypeContent)); n != 1 {
		t.Errorf("content posted %d times, want 1", n)
	}

	waitUntil(t, func() bool {
		for _, msg := range r.obs.of(transport.TypeContentAck) {
			var ack models.Ack
			if msg.Decode(&ack) == nil && ack.Status == models.AckSuccess {
				return true
			}
		}
		return false
	}, "success ack")

	frame, ok := r.recorder.Last()
	if !ok || frame.Content == nil || frame.Content.Timestamp != content.Timestamp {
		t.Fatalf("display rendered %+v", frame)
	}
	if got := frame.Content.Payload.(models.VersePayload).Reference; got != "John 3:16" {
		t.Errorf("rendered reference = %q", got)
	}
	if r.c.ConnState() != presentation.StateConnected {
		t.Errorf("state = %v, want connected", r.c.ConnState())
	}
}

func TestMalformedContentIsRejectedByDisplay(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	good, err := r.c.SendContent(ctx, models.VersePayload{Text: "Be still, and know that I am God", Reference: "Psalm 46:10"})
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, func() bool {
		frame, ok := r.recorder.Last()
		return ok && frame.Content != nil && frame.Content.Timestamp == good.Timestamp
	}, "good verse rendered")
	frames := len(r.recorder.Frames())

	if err := r.obs.ep.Post(transport.TypeContent, map[string]any{"kind": "verse"}); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, func() bool { return len(r.peerErrors()) == 1 }, "display reported the bad content")

	if n := len(r.recorder.Frames()); n != frames {
		t.Errorf("display rendered %d extra frames", n-frames)
	}
	frame, _ := r.recorder.Last()
	if frame.Content == nil || frame.Content.Timestamp != good.Timestamp {
		t.Errorf("display content changed to %+v", frame.Content)
	}
	if r.peerErrors()[0].Message == "" {
		t.Error("peer error has no message")
	}
	if r.c.ConnState() != presentation.StateConnected {
		t.Errorf("state = %v, a rejected item must not drop the connection", r.c.ConnState())
	}
}

func TestReadyCreditsWindowOpenedInProcess(t *testing.T) {
	r := newRig(t)

	for i := 0; i < 3; i++ {
		if err := r.c.OpenPresentationWindow(context.Background()); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if r.c.ConnState() != presentation.StateConnected {
			waitUntil(t, func() bool { return r.c.ConnState() == presentation.StateConnected }, "connected")
		}
		r.c.ClosePresentationWindow()
	}

	if len(r.peerErrors()) != 0 {
		t.Errorf("unexpected display errors: %v", r.peerErrors())
	}
}
