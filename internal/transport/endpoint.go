package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"proyektor/internal/logger"
)

// Handler is invoked for an inbound message from another member.
type Handler func(msg Message)

// Endpoint is one participant of a channel.
type Endpoint struct {
	backend  Backend
	codec    Codec
	senderID string

	mu        sync.RWMutex
	handlers  map[MessageType][]Handler
	listeners []Handler
	onError   func(error)

	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

func WithCodec(c Codec) EndpointOption {
	return func(e *Endpoint) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithSenderID overrides the generated sender id.
func WithSenderID(id string) EndpointOption {
	return func(e *Endpoint) {
		if id != "" {
			e.senderID = id
		}
	}
}

func WithErrorHandler(fn func(error)) EndpointOption {
	return func(e *Endpoint) {
		e.onError = fn
	}
}

// NewEndpoint wraps a backend. Register handlers, then call Start.
func NewEndpoint(b Backend, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		backend:  b,
		codec:    JSONCodec{},
		senderID: uuid.NewString(),
		handlers: make(map[MessageType][]Handler),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Endpoint) SenderID() string {
	return e.senderID
}

// Handle registers fn for one message type. Handlers run on the dispatch
// goroutine in registration order.
func (e *Endpoint) Handle(t MessageType, fn Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = append(e.handlers[t], fn)
}

// OnMessage registers fn for every inbound message, after the typed handlers.
func (e *Endpoint) OnMessage(fn Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// OnError replaces the error handler.
func (e *Endpoint) OnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// Start launches the dispatch goroutine. Calling it twice is a no-op.
func (e *Endpoint) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.dispatch()
}

// Done is closed when the dispatch goroutine exits.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

func (e *Endpoint) dispatch() {
	defer close(e.done)

	for frame := range e.backend.Frames() {
		var msg Message
		if err := e.codec.Decode(frame, &msg); err != nil {
			e.report(&TransportError{Op: "decode", Err: err})
			continue
		}
		if msg.SenderID == e.senderID {
			continue
		}
		e.deliver(msg)
	}

	if !e.closed.Load() {
		e.report(&TransportError{Op: "receive", Err: ErrClosed})
	}
}

func (e *Endpoint) deliver(msg Message) {
	e.mu.RLock()
	handlers := append([]Handler(nil), e.handlers[msg.Type]...)
	listeners := append([]Handler(nil), e.listeners...)
	e.mu.RUnlock()

	if len(handlers) == 0 && len(listeners) == 0 {
		logger.Debug("no handler for message", "type", msg.Type, "sender", msg.SenderID)
		return
	}
	for _, h := range handlers {
		h(msg)
	}
	for _, h := range listeners {
		h(msg)
	}
}

func (e *Endpoint) report(err error) {
	e.mu.RLock()
	fn := e.onError
	e.mu.RUnlock()

	if fn == nil {
		logger.Warn("transport error", "sender", e.senderID, "error", err)
		return
	}
	fn(err)
}

// Post sends a message to every other member. data may be nil.
func (e *Endpoint) Post(t MessageType, data any) error {
	return e.PostWithID(t, "", data)
}

// PostWithID sends a message carrying a correlation id.
func (e *Endpoint) PostWithID(t MessageType, id string, data any) error {
	if e.closed.Load() {
		return &TransportError{Op: "send", Err: ErrClosed}
	}

	msg := Message{Type: t, ID: id, SenderID: e.senderID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return &TransportError{Op: "encode", Err: fmt.Errorf("%s data: %w", t, err)}
		}
		msg.Data = raw
	}

	frame, err := e.codec.Encode(msg)
	if err != nil {
		return &TransportError{Op: "encode", Err: err}
	}
	if err := e.backend.Send(frame); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close leaves the channel. The dispatch goroutine exits once the backend
// closes its frame stream.
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.backend.Close()
}
