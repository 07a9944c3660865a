package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct {
	done chan struct{}
	err  error
}

func newToken(err error) *doneToken {
	t := &doneToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

// pendingToken never completes.
type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return nil }
func (pendingToken) Error() error                   { return nil }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeBroker delivers every publication to all subscribers of the topic,
// the publisher included, like a real broker does.
type fakeBroker struct {
	mu   sync.Mutex
	subs map[string][]*fakeClient
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string][]*fakeClient)}
}

func (b *fakeBroker) publish(topic string, payload []byte) {
	b.mu.Lock()
	subs := append([]*fakeClient(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, c := range subs {
		c.deliver(topic, payload)
	}
}

type fakeClient struct {
	broker *fakeBroker
	opts   *mqtt.ClientOptions

	connectErr   error
	subscribeErr error
	silent       bool

	mu           sync.Mutex
	connected    bool
	handlers     map[string]mqtt.MessageHandler
	published    int
	unsubscribed []string
	disconnects  int
}

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h != nil {
		h(c, fakeMessage{topic: topic, payload: payload})
	}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() mqtt.Token {
	if c.silent {
		return pendingToken{}
	}
	if c.connectErr == nil {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
	}
	return newToken(c.connectErr)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.published++
	c.mu.Unlock()
	c.broker.publish(topic, payload.([]byte))
	return newToken(nil)
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	if c.subscribeErr != nil {
		return newToken(c.subscribeErr)
	}
	c.mu.Lock()
	c.handlers[topic] = callback
	c.mu.Unlock()

	c.broker.mu.Lock()
	c.broker.subs[topic] = append(c.broker.subs[topic], c)
	c.broker.mu.Unlock()
	return newToken(nil)
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return newToken(errors.New("not supported"))
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	c.mu.Unlock()
	return newToken(nil)
}

func (c *fakeClient) AddRoute(string, mqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// connectionLost simulates the broker dropping the client.
func (c *fakeClient) connectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.opts.OnConnectionLost(c, err)
}

func dialFake(t *testing.T, broker *fakeBroker, channel string, setup func(*fakeClient)) (*MQTTBackend, *fakeClient, error) {
	t.Helper()
	var client *fakeClient
	b, err := dialMQTT(context.Background(), MQTTOptions{
		Broker:         "localhost:1883",
		ClientID:       "proyektor-test",
		ConnectTimeout: 100 * time.Millisecond,
		PublishTimeout: 100 * time.Millisecond,
	}, channel, func(opts *mqtt.ClientOptions) mqtt.Client {
		client = &fakeClient{broker: broker, opts: opts, handlers: make(map[string]mqtt.MessageHandler)}
		if setup != nil {
			setup(client)
		}
		return client
	})
	return b, client, err
}

func TestMQTTBackendRelaysFrames(t *testing.T) {
	broker := newFakeBroker()

	controller, cc, err := dialFake(t, broker, "presentation", nil)
	if err != nil {
		t.Fatalf("dial controller: %v", err)
	}
	defer controller.Close()
	display, _, err := dialFake(t, broker, "presentation", nil)
	if err != nil {
		t.Fatalf("dial display: %v", err)
	}
	defer display.Close()

	if got := cc.opts.Servers[0].String(); got != "tcp://localhost:1883" {
		t.Errorf("broker = %q", got)
	}
	if cc.opts.AutoReconnect {
		t.Error("auto reconnect should be off")
	}

	if err := controller.Send([]byte(`{"type":"init"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := string(recv(t, display.Frames())); got != `{"type":"init"}` {
		t.Errorf("display got %q", got)
	}
	// the broker echoes to the publisher too
	if got := string(recv(t, controller.Frames())); got != `{"type":"init"}` {
		t.Errorf("controller echo %q", got)
	}
}

func TestMQTTBackendWithEndpoints(t *testing.T) {
	broker := newFakeBroker()

	cb, _, err := dialFake(t, broker, "presentation", nil)
	if err != nil {
		t.Fatal(err)
	}
	db, _, err := dialFake(t, broker, "presentation", nil)
	if err != nil {
		t.Fatal(err)
	}

	controller := NewEndpoint(cb, WithCodec(MsgpackCodec{}))
	display := NewEndpoint(db, WithCodec(MsgpackCodec{}))
	defer controller.Close()
	defer display.Close()

	got := make(chan Message, 4)
	display.OnMessage(func(msg Message) { got <- msg })
	own := make(chan Message, 4)
	controller.OnMessage(func(msg Message) { own <- msg })
	controller.Start()
	display.Start()

	if err := controller.PostWithID(TypeContent, "42", map[string]string{"kind": "verse"}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-got:
		if msg.Type != TypeContent || msg.ID != "42" {
			t.Errorf("display got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("display got nothing")
	}
	select {
	case msg := <-own:
		t.Errorf("controller received its own echo: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMQTTConnectionLostClosesFrames(t *testing.T) {
	broker := newFakeBroker()
	b, client, err := dialFake(t, broker, "presentation", nil)
	if err != nil {
		t.Fatal(err)
	}

	client.connectionLost(errors.New("broker went away"))

	select {
	case _, ok := <-b.Frames():
		if ok {
			t.Fatal("expected frames to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("frames not closed after connection loss")
	}
	if err := b.Send([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("send after loss = %v, want ErrClosed", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("close after loss: %v", err)
	}
	if client.disconnects != 0 {
		t.Error("a lost client should not be disconnected again")
	}
}

func TestMQTTCloseUnsubscribes(t *testing.T) {
	broker := newFakeBroker()
	b, client, err := dialFake(t, broker, "stage", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.unsubscribed) != 1 || client.unsubscribed[0] != TopicFor("stage") {
		t.Errorf("unsubscribed = %v", client.unsubscribed)
	}
	if client.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", client.disconnects)
	}
}

func TestDialMQTTFailures(t *testing.T) {
	broker := newFakeBroker()

	_, _, err := dialFake(t, broker, "presentation", func(c *fakeClient) { c.connectErr = errors.New("not authorized") })
	if err == nil {
		t.Error("expected connect error")
	}

	_, client, err := dialFake(t, broker, "presentation", func(c *fakeClient) { c.subscribeErr = errors.New("topic denied") })
	if err == nil {
		t.Error("expected subscribe error")
	}
	if client.disconnects != 1 {
		t.Errorf("failed subscribe should disconnect, got %d", client.disconnects)
	}

	_, _, err = dialFake(t, broker, "presentation", func(c *fakeClient) { c.silent = true })
	if !errors.Is(err, ErrSendTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}
