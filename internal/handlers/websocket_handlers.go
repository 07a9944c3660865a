package handlers

import (
	"net/http"

	"proyektor/internal/logger"
	"proyektor/internal/transport"

	"github.com/gorilla/mux"
)

// WebSocketHandler lets display processes join a channel over WebSocket
type WebSocketHandler struct {
	hub *transport.Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *transport.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// ServeWS joins the connection to the channel until it hangs up
// GET /ws/{channel}
func (wh *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	if err := wh.hub.ServeWS(w, r, channel); err != nil {
		// The upgrader has already replied.
		logger.Warn("websocket connection failed", "channel", channel, "error", err)
	}
}

// ChannelStats is one channel in the stats response
type ChannelStats struct {
	Name      string `json:"name"`
	Members   int    `json:"members"`
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// GetChannels returns counters for every channel
// GET /api/channels
func (wh *WebSocketHandler) GetChannels(w http.ResponseWriter, r *http.Request) {
	rooms := wh.hub.Rooms()
	resp := make([]ChannelStats, 0, len(rooms))
	for _, name := range rooms {
		s := wh.hub.Stats(name)
		resp = append(resp, ChannelStats{
			Name:      name,
			Members:   s.Members,
			Published: s.Published,
			Delivered: s.Delivered,
			Dropped:   s.Dropped,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
