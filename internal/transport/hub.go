package transport

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// DefaultInboxSize is the number of frames a member buffers before dropping.
const DefaultInboxSize = 64

// Hub is a set of named rooms. Every frame sent by a member is fanned out to
// the other members of its room without blocking: a member whose inbox is
// full misses the frame.
//
// Members join either in-process (Join) or over a WebSocket (ServeWS).
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	inboxSize int
	closed    bool

	upgrader websocket.Upgrader
}

type room struct {
	members map[*member]struct{}

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type member struct {
	hub    *Hub
	room   string
	out    chan []byte
	closed bool // guarded by hub.mu
}

// RoomStats is a snapshot of one room's counters.
type RoomStats struct {
	Members   int
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithInboxSize sets the per-member buffer.
func WithInboxSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.inboxSize = n
		}
	}
}

// WithUpgrader replaces the WebSocket upgrader used by ServeWS.
func WithUpgrader(u websocket.Upgrader) HubOption {
	return func(h *Hub) {
		h.upgrader = u
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		rooms:     make(map[string]*room),
		inboxSize: DefaultInboxSize,
		upgrader:  defaultUpgrader,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join adds an in-process member to the named room.
func (h *Hub) Join(name string) (Backend, error) {
	return h.join(name)
}

func (h *Hub) join(name string) (*member, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	r, ok := h.rooms[name]
	if !ok {
		r = &room{members: make(map[*member]struct{})}
		h.rooms[name] = r
	}

	m := &member{
		hub:  h,
		room: name,
		out:  make(chan []byte, h.inboxSize),
	}
	r.members[m] = struct{}{}
	return m, nil
}

func (h *Hub) broadcast(from *member, frame []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if from.closed {
		return ErrClosed
	}

	r := h.rooms[from.room]
	r.published.Add(1)

	frame = bytes.Clone(frame)
	for m := range r.members {
		if m == from {
			continue
		}
		select {
		case m.out <- frame:
			r.delivered.Add(1)
		default:
			r.dropped.Add(1)
		}
	}
	return nil
}

func (h *Hub) leave(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.out)

	if r, ok := h.rooms[m.room]; ok {
		delete(r.members, m)
	}
}

// Stats returns the counters of the named room.
func (h *Hub) Stats(name string) RoomStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[name]
	if !ok {
		return RoomStats{}
	}
	return RoomStats{
		Members:   len(r.members),
		Published: r.published.Load(),
		Delivered: r.delivered.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Rooms lists the names of rooms that have been joined.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close disconnects every member. It is idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, r := range h.rooms {
		for m := range r.members {
			if !m.closed {
				m.closed = true
				close(m.out)
			}
		}
		r.members = make(map[*member]struct{})
	}
	return nil
}

func (m *member) Send(frame []byte) error {
	return m.hub.broadcast(m, frame)
}

func (m *member) Frames() <-chan []byte {
	return m.out
}

func (m *member) Close() error {
	m.hub.leave(m)
	return nil
}
