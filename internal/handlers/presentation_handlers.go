package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"proyektor/internal/bible"
	"proyektor/internal/logger"
	"proyektor/internal/models"
	"proyektor/internal/presentation"
	"proyektor/internal/services"
	"proyektor/internal/state"

	"github.com/gorilla/mux"
)

// VerseSource looks up Bible passages.
type VerseSource interface {
	Versions(ctx context.Context) (bible.Versions, error)
	Verse(ctx context.Context, version, book string, chapter, verse int) (bible.Passage, error)
	VerseRange(ctx context.Context, version, book string, chapter, from, to int) (bible.Passage, error)
}

// PresentationHandler handles HTTP requests that drive the projection
type PresentationHandler struct {
	coord   *presentation.Coordinator
	verses  VerseSource
	songs   SongSource
	journal *services.ContentLogService
}

// NewPresentationHandler creates a new presentation handler. journal may be nil
// when content is not logged.
func NewPresentationHandler(coord *presentation.Coordinator, verses VerseSource, songs SongSource, journal *services.ContentLogService) *PresentationHandler {
	return &PresentationHandler{
		coord:   coord,
		verses:  verses,
		songs:   songs,
		journal: journal,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

// statusFor maps coordinator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidContent):
		return http.StatusBadRequest
	case errors.Is(err, presentation.ErrNotInHistory), errors.Is(err, bible.ErrNotFound),
		errors.Is(err, services.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, presentation.ErrWindowUnavailable), errors.Is(err, presentation.ErrReadyTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, presentation.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// windowCommandStatus maps errors of commands that need an open window. A
// missing window is the caller's conflict, not an outage.
func windowCommandStatus(err error) int {
	if errors.Is(err, presentation.ErrWindowUnavailable) {
		return http.StatusConflict
	}
	return statusFor(err)
}

// StatusResponse is the connection summary returned by most actions
type StatusResponse struct {
	Success     bool                   `json:"success"`
	Connection  presentation.ConnState `json:"connection"`
	WindowOpen  bool                   `json:"windowOpen"`
	Connected   bool                   `json:"connected"`
	QueueLength int                    `json:"queueLength"`
	FontReady   bool                   `json:"fontReady"`
	State       *state.State           `json:"state,omitempty"`
	Content     *models.Content        `json:"content,omitempty"`
	Ack         *bool                  `json:"acknowledged,omitempty"`
	BlackScreen *bool                  `json:"blackScreen,omitempty"`
}

func (h *PresentationHandler) status() StatusResponse {
	return StatusResponse{
		Success:     true,
		Connection:  h.coord.ConnState(),
		WindowOpen:  h.coord.IsWindowOpen(),
		Connected:   h.coord.IsConnected(),
		QueueLength: h.coord.QueueLength(),
		FontReady:   h.coord.FontReady(),
	}
}

// OpenWindowRequest represents a request to open the display window
type OpenWindowRequest struct {
	ScreenID *int `json:"screenId,omitempty"`
}

// OpenWindow opens the display window, or focuses it if it is open
// POST /api/presentation/open
func (h *PresentationHandler) OpenWindow(w http.ResponseWriter, r *http.Request) {
	var req OpenWindowRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	var err error
	if req.ScreenID != nil {
		err = h.coord.OpenPresentationWindowOn(r.Context(), *req.ScreenID)
	} else {
		err = h.coord.OpenPresentationWindow(r.Context())
	}
	if err != nil {
		logger.Warn("failed to open presentation window", "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, h.status())
}

// CloseWindow closes the display window
// POST /api/presentation/close
func (h *PresentationHandler) CloseWindow(w http.ResponseWriter, r *http.Request) {
	h.coord.ClosePresentationWindow()
	writeJSON(w, http.StatusOK, h.status())
}

// SendContent shows content on the display. With ?confirm=true the call
// waits for the display to acknowledge it.
// POST /api/presentation/content
func (h *PresentationHandler) SendContent(w http.ResponseWriter, r *http.Request) {
	var content models.Content
	if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.send(w, r, content.Payload)
}

// VerseRequest represents a request to fetch a passage and show it
type VerseRequest struct {
	Version string `json:"version"`
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verse   int    `json:"verse"`
	To      int    `json:"to,omitempty"`
}

// SendVerse fetches a passage from the content API and shows it
// POST /api/presentation/verse
func (h *PresentationHandler) SendVerse(w http.ResponseWriter, r *http.Request) {
	var req VerseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Version == "" || req.Book == "" || req.Chapter <= 0 || req.Verse <= 0 {
		http.Error(w, "version, book, chapter and verse are required", http.StatusBadRequest)
		return
	}
	if h.verses == nil {
		http.Error(w, "content API is not configured", http.StatusServiceUnavailable)
		return
	}

	var (
		passage bible.Passage
		err     error
	)
	if req.To > req.Verse {
		passage, err = h.verses.VerseRange(r.Context(), req.Version, req.Book, req.Chapter, req.Verse, req.To)
	} else {
		passage, err = h.verses.Verse(r.Context(), req.Version, req.Book, req.Chapter, req.Verse)
	}
	if err != nil {
		logger.Warn("failed to fetch passage", "version", req.Version, "book", req.Book, "chapter", req.Chapter, "verse", req.Verse, "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, bible.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	h.send(w, r, passage.Payload())
}

func (h *PresentationHandler) send(w http.ResponseWriter, r *http.Request, payload models.Payload) {
	content, err := h.coord.SendContent(r.Context(), payload)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	resp := h.status()
	resp.Content = &content
	if confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); confirm {
		ok := h.coord.WaitForAcknowledgement(r.Context(), content)
		resp.Ack = &ok
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// RecallRequest represents a request to show a history item again
type RecallRequest struct {
	Timestamp int64 `json:"timestamp"`
}

// Recall shows a history item again
// POST /api/presentation/recall
func (h *PresentationHandler) Recall(w http.ResponseWriter, r *http.Request) {
	var req RecallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Timestamp == 0 {
		http.Error(w, "timestamp is required", http.StatusBadRequest)
		return
	}

	content, err := h.coord.RecallContent(r.Context(), req.Timestamp)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	resp := h.status()
	resp.Content = &content
	writeJSON(w, http.StatusAccepted, resp)
}

// Clear blanks the display
// POST /api/presentation/clear
func (h *PresentationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ClearContent(); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// ToggleBlackScreen hides or shows the projection
// POST /api/presentation/blackscreen
func (h *PresentationHandler) ToggleBlackScreen(w http.ResponseWriter, r *http.Request) {
	active, err := h.coord.ToggleBlackScreen()
	if err != nil {
		http.Error(w, err.Error(), windowCommandStatus(err))
		return
	}
	resp := h.status()
	resp.BlackScreen = &active
	writeJSON(w, http.StatusOK, resp)
}

// ToggleFullScreen asks the display to toggle full screen
// POST /api/presentation/fullscreen
func (h *PresentationHandler) ToggleFullScreen(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.ToggleFullScreen(); err != nil {
		http.Error(w, err.Error(), windowCommandStatus(err))
		return
	}
	writeJSON(w, http.StatusAccepted, h.status())
}

// Sync pushes the whole state to the display
// POST /api/presentation/sync
func (h *PresentationHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.SyncState(); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// GetConfig returns the presentation config
// GET /api/presentation/config
func (h *PresentationHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Snapshot().Config)
}

// UpdateConfig merges a partial config and forwards it to the display
// PATCH /api/presentation/config
func (h *PresentationHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch models.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if patch.IsWindowOpen != nil {
		http.Error(w, "isWindowOpen is read-only", http.StatusBadRequest)
		return
	}

	if err := h.coord.Snapshot().Config.Apply(patch).Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.coord.UpdateConfig(patch); err != nil {
		logger.Warn("failed to forward config", "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, h.coord.Snapshot().Config)
}

// ResetConfig restores the default look
// DELETE /api/presentation/config
func (h *PresentationHandler) ResetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.coord.ResetConfig()
	if err != nil {
		logger.Warn("failed to reset config", "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetState returns the full snapshot and the connection state
// GET /api/presentation/state
func (h *PresentationHandler) GetState(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()
	resp := h.status()
	resp.State = &snap
	writeJSON(w, http.StatusOK, resp)
}

// GetHistory returns shown content, most recent last
// GET /api/presentation/history
func (h *PresentationHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history := h.coord.ContentHistory()
	// Always return an array, even if empty
	if history == nil {
		history = []models.Content{}
	}
	writeJSON(w, http.StatusOK, history)
}

// CheckConnection pings the display
// GET /api/presentation/check
func (h *PresentationHandler) CheckConnection(w http.ResponseWriter, r *http.Request) {
	alive := h.coord.CheckConnection(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"alive": alive})
}

// GetLog returns logged content, newest first
// GET /api/presentation/log?kind=verse&limit=20
func (h *PresentationHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "content log is not enabled", http.StatusNotFound)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.journal.Recent(r.Context(), models.ContentKind(r.URL.Query().Get("kind")), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Always return an array, even if empty
	if entries == nil {
		entries = []*models.ContentLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetLogEntry returns one logged item by its content timestamp
// GET /api/presentation/log/{timestamp}
func (h *PresentationHandler) GetLogEntry(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "content log is not enabled", http.StatusNotFound)
		return
	}

	timestamp, err := strconv.ParseInt(mux.Vars(r)["timestamp"], 10, 64)
	if err != nil || timestamp <= 0 {
		http.Error(w, "timestamp must be a positive integer", http.StatusBadRequest)
		return
	}

	entry, err := h.journal.Get(r.Context(), timestamp)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ClearLog deletes the content log
// DELETE /api/presentation/log
func (h *PresentationHandler) ClearLog(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "content log is not enabled", http.StatusNotFound)
		return
	}
	if _, err := h.journal.Clear(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
