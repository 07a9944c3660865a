package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"proyektor/internal/bible"
	"proyektor/internal/logger"

	"github.com/gorilla/mux"
)

// BibleHandler proxies the content API for the operator UI
type BibleHandler struct {
	verses VerseSource
}

// NewBibleHandler creates a new Bible handler
func NewBibleHandler(verses VerseSource) *BibleHandler {
	return &BibleHandler{verses: verses}
}

// GetVersions lists the available versions. When the content API cannot be
// reached the built-in catalog is returned.
// GET /api/bible/versions
func (bh *BibleHandler) GetVersions(w http.ResponseWriter, r *http.Request) {
	if bh.verses == nil {
		writeJSON(w, http.StatusOK, bible.Catalog())
		return
	}

	versions, err := bh.verses.Versions(r.Context())
	if err != nil {
		logger.Warn("content API unavailable, serving catalog", "error", err)
		writeJSON(w, http.StatusOK, bible.Catalog())
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// parseVerseParam accepts "16" or "16-18".
func parseVerseParam(param string) (from, to int, err error) {
	first, last, isRange := strings.Cut(param, "-")
	from, err = strconv.Atoi(first)
	if err != nil || from <= 0 {
		return 0, 0, fmt.Errorf("invalid verse %q", param)
	}
	if !isRange {
		return from, from, nil
	}
	to, err = strconv.Atoi(last)
	if err != nil || to < from {
		return 0, 0, fmt.Errorf("invalid verse range %q", param)
	}
	return from, to, nil
}

// ReadVerse returns a single verse or a range
// GET /api/bible/read/{version}/{book}/{chapter}/{verse}
func (bh *BibleHandler) ReadVerse(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version := vars["version"]
	book := vars["book"]

	chapter, err := strconv.Atoi(vars["chapter"])
	if err != nil || chapter <= 0 {
		http.Error(w, "Invalid chapter", http.StatusBadRequest)
		return
	}
	from, to, err := parseVerseParam(vars["verse"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if bh.verses == nil {
		http.Error(w, "content API is not configured", http.StatusServiceUnavailable)
		return
	}

	var passage bible.Passage
	if to > from {
		passage, err = bh.verses.VerseRange(r.Context(), version, book, chapter, from, to)
	} else {
		passage, err = bh.verses.Verse(r.Context(), version, book, chapter, from)
	}
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, bible.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, passage)
}
