package handlers

import (
	"net/http"
	"time"

	"proyektor/internal/logger"

	"github.com/gorilla/mux"
)

// SetupRoutes wires every handler into a router
func SetupRoutes(ws *WebSocketHandler, presentation *PresentationHandler, bible *BibleHandler, songs *SongHandler) *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if ws != nil {
		r.HandleFunc("/ws/{channel}", ws.ServeWS)
	}

	api := r.PathPrefix("/api").Subrouter()
	if ws != nil {
		api.HandleFunc("/channels", ws.GetChannels).Methods(http.MethodGet)
	}

	p := api.PathPrefix("/presentation").Subrouter()
	p.HandleFunc("/open", presentation.OpenWindow).Methods(http.MethodPost)
	p.HandleFunc("/close", presentation.CloseWindow).Methods(http.MethodPost)
	p.HandleFunc("/content", presentation.SendContent).Methods(http.MethodPost)
	p.HandleFunc("/verse", presentation.SendVerse).Methods(http.MethodPost)
	p.HandleFunc("/song/{id}", presentation.SendSong).Methods(http.MethodPost)
	p.HandleFunc("/recall", presentation.Recall).Methods(http.MethodPost)
	p.HandleFunc("/clear", presentation.Clear).Methods(http.MethodPost)
	p.HandleFunc("/blackscreen", presentation.ToggleBlackScreen).Methods(http.MethodPost)
	p.HandleFunc("/fullscreen", presentation.ToggleFullScreen).Methods(http.MethodPost)
	p.HandleFunc("/sync", presentation.Sync).Methods(http.MethodPost)
	p.HandleFunc("/config", presentation.GetConfig).Methods(http.MethodGet)
	p.HandleFunc("/config", presentation.UpdateConfig).Methods(http.MethodPatch)
	p.HandleFunc("/config", presentation.ResetConfig).Methods(http.MethodDelete)
	p.HandleFunc("/state", presentation.GetState).Methods(http.MethodGet)
	p.HandleFunc("/history", presentation.GetHistory).Methods(http.MethodGet)
	p.HandleFunc("/check", presentation.CheckConnection).Methods(http.MethodGet)
	p.HandleFunc("/log", presentation.GetLog).Methods(http.MethodGet)
	p.HandleFunc("/log", presentation.ClearLog).Methods(http.MethodDelete)
	p.HandleFunc("/log/{timestamp}", presentation.GetLogEntry).Methods(http.MethodGet)

	b := api.PathPrefix("/bible").Subrouter()
	b.HandleFunc("/versions", bible.GetVersions).Methods(http.MethodGet)
	b.HandleFunc("/read/{version}/{book}/{chapter}/{verse}", bible.ReadVerse).Methods(http.MethodGet)

	if songs != nil {
		api.HandleFunc("/song/search", songs.Search).Methods(http.MethodGet)
	}

	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
