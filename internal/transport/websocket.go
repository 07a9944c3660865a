package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proyektor/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 512 * 1024
)

var defaultUpgrader = OriginUpgrader()

// OriginUpgrader accepts requests without an Origin, from the served host,
// and from any of the listed origins.
func OriginUpgrader(allowed ...string) websocket.Upgrader {
	extra := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			extra[strings.ToLower(origin)] = true
		}
	}
	return websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			if extra[strings.ToLower(strings.TrimRight(origin, "/"))] {
				return true
			}
			host := strings.TrimSpace(r.Host)
			return strings.Contains(origin, "://"+host)
		},
	}
}

// ServeWS upgrades the request and joins the connection to the named room
// until either side hangs up.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, name string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	m, err := h.join(name)
	if err != nil {
		conn.Close()
		return err
	}

	logger.Info("websocket member joined", "channel", name, "remote", r.RemoteAddr)

	go pumpHubToWS(conn, m)
	pumpWSToHub(conn, m)

	logger.Info("websocket member left", "channel", name, "remote", r.RemoteAddr)
	return nil
}

func pumpHubToWS(conn *websocket.Conn, m *member) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-m.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("websocket write failed", "channel", m.room, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func pumpWSToHub(conn *websocket.Conn, m *member) {
	defer m.Close()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "channel", m.room, "error", err)
			}
			return
		}
		if err := m.Send(data); err != nil {
			return
		}
	}
}

// WebSocketBackend is a channel member connected to a remote Hub.
type WebSocketBackend struct {
	conn   *websocket.Conn
	frames chan []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// DialWebSocket connects to a hub room, e.g. ws://host:5000/ws/presentation.
func DialWebSocket(ctx context.Context, url string) (*WebSocketBackend, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	b := &WebSocketBackend{
		conn:   conn,
		frames: make(chan []byte, DefaultInboxSize),
	}
	go b.readLoop()
	return b, nil
}

func (b *WebSocketBackend) readLoop() {
	defer close(b.frames)

	b.conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			logger.Debug("websocket backend read stopped", "error", err)
			return
		}
		select {
		case b.frames <- data:
		default:
			logger.Debug("websocket backend inbox full, dropping frame")
		}
	}
}

func (b *WebSocketBackend) Send(frame []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := b.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	return nil
}

func (b *WebSocketBackend) Frames() <-chan []byte {
	return b.frames
}

func (b *WebSocketBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.writeMu.Lock()
		_ = b.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = b.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		b.writeMu.Unlock()
		err = b.conn.Close()
	})
	return err
}
