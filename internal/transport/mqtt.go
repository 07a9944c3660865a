package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"proyektor/internal/logger"
)

// MQTTOptions configures an MQTT-backed channel.
type MQTTOptions struct {
	Broker         string
	ClientID       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTBackend maps a named channel onto one MQTT topic. The broker echoes a
// client's own publications back; Endpoint filters them by sender id.
type MQTTBackend struct {
	client mqtt.Client
	topic  string
	opts   MQTTOptions

	mu     sync.Mutex
	frames chan []byte
	closed bool
}

// TopicFor returns the MQTT topic carrying the named channel.
func TopicFor(channel string) string {
	return "proyektor/channels/" + channel
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// DialMQTT connects to the broker and subscribes to the channel topic.
// Auto-reconnect is disabled: a lost connection closes Frames and the owner
// decides whether to dial again.
func DialMQTT(ctx context.Context, o MQTTOptions, channel string) (*MQTTBackend, error) {
	return dialMQTT(ctx, o, channel, mqtt.NewClient)
}

func dialMQTT(ctx context.Context, o MQTTOptions, channel string, newClient func(*mqtt.ClientOptions) mqtt.Client) (*MQTTBackend, error) {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.PublishTimeout == 0 {
		o.PublishTimeout = 5 * time.Second
	}

	b := &MQTTBackend{
		topic:  TopicFor(channel),
		opts:   o,
		frames: make(chan []byte, DefaultInboxSize),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(o.Broker))
	opts.SetClientID(fmt.Sprintf("%s-%s", o.ClientID, uuid.NewString()[:8]))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", o.Broker, "topic", b.topic, "error", err)
		b.shutdown()
	})

	b.client = newClient(opts)

	logger.Info("connecting to mqtt broker", "broker", o.Broker, "topic", b.topic)

	if err := waitToken(ctx, b.client.Connect(), o.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	token := b.client.Subscribe(b.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		b.push(msg.Payload())
	})
	if err := waitToken(ctx, token, o.ConnectTimeout); err != nil {
		b.client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", b.topic, err)
	}

	return b, nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrSendTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MQTTBackend) push(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	select {
	case b.frames <- frame:
	default:
		logger.Debug("mqtt inbox full, dropping frame", "topic", b.topic)
	}
}

func (b *MQTTBackend) Send(frame []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	token := b.client.Publish(b.topic, 0, false, frame)
	return waitToken(context.Background(), token, b.opts.PublishTimeout)
}

func (b *MQTTBackend) Frames() <-chan []byte {
	return b.frames
}

func (b *MQTTBackend) shutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.closed = true
	close(b.frames)
	return true
}

func (b *MQTTBackend) Close() error {
	if !b.shutdown() {
		return nil
	}
	if b.client.IsConnected() {
		b.client.Unsubscribe(b.topic)
		b.client.Disconnect(250)
	}
	return nil
}
