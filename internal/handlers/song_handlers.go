package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"proyektor/internal/logger"
	"proyektor/internal/lyrics"

	"github.com/gorilla/mux"
)

// SongSource looks up song lyrics.
type SongSource interface {
	Search(ctx context.Context, q lyrics.Query) ([]lyrics.Track, error)
	Get(ctx context.Context, id int64) (lyrics.Track, error)
}

// SongHandler proxies the lyrics API for the operator UI
type SongHandler struct {
	songs SongSource
}

// NewSongHandler creates a new song handler
func NewSongHandler(songs SongSource) *SongHandler {
	return &SongHandler{songs: songs}
}

// Search lists matching tracks
// GET /api/song/search?q=...&track=...&artist=...&album=...
func (sh *SongHandler) Search(w http.ResponseWriter, r *http.Request) {
	if sh.songs == nil {
		http.Error(w, "lyrics API is not configured", http.StatusServiceUnavailable)
		return
	}

	params := r.URL.Query()
	q := lyrics.Query{
		Text:   params.Get("q"),
		Track:  params.Get("track"),
		Artist: params.Get("artist"),
		Album:  params.Get("album"),
	}
	if q.Text == "" && q.Track == "" {
		http.Error(w, "q or track is required", http.StatusBadRequest)
		return
	}

	tracks, err := sh.songs.Search(r.Context(), q)
	if err != nil {
		logger.Warn("failed to search lyrics", "query", q.Text, "track", q.Track, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// SendSong fetches a track's lyrics and shows them. ?confirm=true waits
// for the display to acknowledge.
// POST /api/presentation/song/{id}
func (h *PresentationHandler) SendSong(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "id must be a positive integer", http.StatusBadRequest)
		return
	}
	if h.songs == nil {
		http.Error(w, "lyrics API is not configured", http.StatusServiceUnavailable)
		return
	}

	track, err := h.songs.Get(r.Context(), id)
	if err != nil {
		logger.Warn("failed to fetch lyrics", "id", id, "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, lyrics.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	payload, err := track.Payload()
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	h.send(w, r, payload)
}
