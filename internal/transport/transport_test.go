package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case frame, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func TestHubBroadcastSkipsSender(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a, _ := hub.Join("presentation")
	b, _ := hub.Join("presentation")
	other, _ := hub.Join("elsewhere")

	if err := a.Send([]byte("hello")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if got := string(recv(t, b.Frames())); got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}

	select {
	case frame := <-a.Frames():
		t.Errorf("sender received its own frame %q", frame)
	case frame := <-other.Frames():
		t.Errorf("other room received frame %q", frame)
	case <-time.After(20 * time.Millisecond):
	}

	stats := hub.Stats("presentation")
	if stats.Members != 2 || stats.Published != 1 || stats.Delivered != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHubDropsWhenInboxFull(t *testing.T) {
	hub := NewHub(WithInboxSize(1))
	defer hub.Close()

	a, _ := hub.Join("presentation")
	_, _ = hub.Join("presentation")

	for i := 0; i < 3; i++ {
		if err := a.Send([]byte("x")); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	stats := hub.Stats("presentation")
	if stats.Delivered != 1 {
		t.Errorf("expected 1 delivered, got %d", stats.Delivered)
	}
	if stats.Dropped != 2 {
		t.Errorf("expected 2 dropped, got %d", stats.Dropped)
	}
}

func TestHubMemberClose(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a, _ := hub.Join("presentation")
	if err := a.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if _, ok := <-a.Frames(); ok {
		t.Error("expected frames to be closed")
	}
	if err := a.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	if err := hub.Close(); err != nil {
		t.Fatalf("hub close failed: %v", err)
	}
	if _, err := hub.Join("presentation"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after hub close, got %v", err)
	}
}

func TestEndpointFiltersOwnEchoes(t *testing.T) {
	// A backend that echoes everything back, like an MQTT subscription.
	echo := newLoopback()
	e := NewEndpoint(echo, WithSenderID("controller"))

	var mu sync.Mutex
	var got []Message
	e.OnMessage(func(msg Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	e.Start()
	defer e.Close()

	if err := e.Post(TypeHeartbeat, 1); err != nil {
		t.Fatalf("post failed: %v", err)
	}
	echo.inject(t, Message{Type: TypePong, Data: []byte("1"), SenderID: "display"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Type != TypePong {
		t.Errorf("expected only the pong, got %+v", got)
	}
}

func TestEndpointHandlersRunInOrder(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ctrlBackend, _ := hub.Join("presentation")
	dispBackend, _ := hub.Join("presentation")

	ctrl := NewEndpoint(ctrlBackend)
	disp := NewEndpoint(dispBackend)

	order := make(chan string, 3)
	disp.Handle(TypeContent, func(Message) { order <- "first" })
	disp.Handle(TypeContent, func(Message) { order <- "second" })
	disp.OnMessage(func(Message) { order <- "listener" })
	disp.Start()
	defer disp.Close()

	if err := ctrl.PostWithID(TypeContent, "abc", map[string]string{"kind": "verse"}); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	for _, want := range []string{"first", "second", "listener"} {
		select {
		case got := <-order:
			if got != want {
				t.Errorf("expected %s, got %s", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestEndpointReportsDecodeError(t *testing.T) {
	lb := newLoopback()
	errs := make(chan error, 1)
	e := NewEndpoint(lb, WithErrorHandler(func(err error) { errs <- err }))
	e.Start()
	defer e.Close()

	lb.frames <- []byte("{not json")

	select {
	case err := <-errs:
		var te *TransportError
		if !errors.As(err, &te) || te.Op != "decode" {
			t.Errorf("expected decode TransportError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no error reported")
	}
}

func TestEndpointReportsBackendClosure(t *testing.T) {
	lb := newLoopback()
	errs := make(chan error, 1)
	e := NewEndpoint(lb, WithErrorHandler(func(err error) { errs <- err }))
	e.Start()

	// Closed underneath the endpoint, as on a lost connection.
	lb.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no error reported")
	}
	<-e.Done()

	if err := e.Post(TypeReady, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from the backend, got %v", err)
	}
}

func TestEndpointCloseIsQuiet(t *testing.T) {
	lb := newLoopback()
	errs := make(chan error, 1)
	e := NewEndpoint(lb, WithErrorHandler(func(err error) { errs <- err }))
	e.Start()

	if err := e.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	<-e.Done()

	select {
	case err := <-errs:
		t.Errorf("unexpected error after explicit close: %v", err)
	default:
	}

	var te *TransportError
	if err := e.Post(TypeReady, nil); !errors.As(err, &te) || te.Op != "send" {
		t.Errorf("expected send TransportError, got %v", err)
	}
}

func TestMsgpackCodec(t *testing.T) {
	codec, err := CodecByName("msgpack")
	if err != nil {
		t.Fatalf("codec lookup failed: %v", err)
	}

	in := Message{Type: TypeContentAck, ID: "42", Data: []byte(`{"id":"42","status":"success"}`), SenderID: "display"}
	frame, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var out Message
	if err := codec.Decode(frame, &out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Type != in.Type || out.ID != in.ID || out.SenderID != in.SenderID || string(out.Data) != string(in.Data) {
		t.Errorf("round trip mismatch: %+v", out)
	}

	if _, err := CodecByName("protobuf"); err == nil {
		t.Error("expected unknown codec error")
	}
}

func TestMessageDecode(t *testing.T) {
	var ts int64
	if err := (Message{Type: TypeHeartbeat}).Decode(&ts); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
	msg := Message{Type: TypeHeartbeat, Data: []byte("1700000000000")}
	if err := msg.Decode(&ts); err != nil || ts != 1700000000000 {
		t.Errorf("decode = %d, %v", ts, err)
	}
	if (Message{Data: []byte("null")}).HasData() {
		t.Error("null data should not count as data")
	}
}

func TestTopicFor(t *testing.T) {
	if got := TopicFor("presentation"); got != "proyektor/channels/presentation" {
		t.Errorf("unexpected topic %q", got)
	}
	if got := brokerURL("localhost:1883"); got != "tcp://localhost:1883" {
		t.Errorf("unexpected broker url %q", got)
	}
	if got := brokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Errorf("unexpected broker url %q", got)
	}
}

func TestWebSocketRelay(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "presentation")
	}))
	defer srv.Close()

	local, _ := hub.Join("presentation")

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	remote, err := DialWebSocket(ctx, url)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer remote.Close()

	waitFor(t, func() bool { return hub.Stats("presentation").Members == 2 })

	if err := remote.Send([]byte(`{"type":"ready"}`)); err != nil {
		t.Fatalf("remote send failed: %v", err)
	}
	if got := string(recv(t, local.Frames())); got != `{"type":"ready"}` {
		t.Errorf("local got %q", got)
	}

	if err := local.Send([]byte(`{"type":"init"}`)); err != nil {
		t.Fatalf("local send failed: %v", err)
	}
	if got := string(recv(t, remote.Frames())); got != `{"type":"init"}` {
		t.Errorf("remote got %q", got)
	}
}

func TestCheckOriginSameHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://localhost:5000/ws/presentation", nil)
	r.Host = "localhost:5000"

	if !defaultUpgrader.CheckOrigin(r) {
		t.Error("expected request without origin to pass")
	}
	r.Header.Set("Origin", "http://localhost:5000")
	if !defaultUpgrader.CheckOrigin(r) {
		t.Error("expected same origin to pass")
	}
	r.Header.Set("Origin", "http://evil.example")
	if defaultUpgrader.CheckOrigin(r) {
		t.Error("expected foreign origin to fail")
	}
}

func TestOriginUpgraderAllowsListedOrigins(t *testing.T) {
	u := OriginUpgrader("https://stage.example/", " ")
	r := httptest.NewRequest(http.MethodGet, "http://localhost:5000/ws/presentation", nil)

	r.Header.Set("Origin", "https://Stage.example")
	if !u.CheckOrigin(r) {
		t.Error("expected listed origin to pass")
	}
	r.Header.Set("Origin", "http://localhost:5000")
	if !u.CheckOrigin(r) {
		t.Error("expected same origin to pass")
	}
	r.Header.Set("Origin", "http://evil.example")
	if u.CheckOrigin(r) {
		t.Error("expected unlisted origin to fail")
	}
}

func TestHubServesWithCustomUpgrader(t *testing.T) {
	hub := NewHub(WithUpgrader(OriginUpgrader("http://control.example")))
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "presentation")
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://control.example"}})
	if err != nil {
		t.Fatalf("listed origin rejected: %v", err)
	}
	conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("unlisted origin accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}

// loopback is a Backend that echoes sent frames back to its own reader.
type loopback struct {
	frames chan []byte
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func newLoopback() *loopback {
	return &loopback{frames: make(chan []byte, 16)}
}

func (l *loopback) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.frames <- frame
	return nil
}

func (l *loopback) Frames() <-chan []byte { return l.frames }

func (l *loopback) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.frames)
		l.mu.Unlock()
	})
	return nil
}

func (l *loopback) inject(t *testing.T, msg Message) {
	t.Helper()
	frame, err := JSONCodec{}.Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	l.frames <- frame
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
