// Package lyrics is the client of the LRCLIB song lyrics API. It searches
// tracks and turns a track's lyrics into displayable song content.
package lyrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"proyektor/internal/logger"
	"proyektor/internal/models"
)

const DefaultBaseURL = "https://lrclib.net/api"

var (
	// ErrNotFound is returned when the API has no such track.
	ErrNotFound = errors.New("lyrics: track not found")
	// ErrNoLyrics is returned for instrumental tracks and tracks without text.
	ErrNoLyrics = errors.New("lyrics: track has no lyrics")
)

// APIError is a non-2xx answer from the lyrics API.
type APIError struct {
	Status int
	URL    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lyrics api %s: status %d", e.URL, e.Status)
}

// Track is one LRCLIB record.
type Track struct {
	ID           int64   `json:"id"`
	Name         string  `json:"trackName"`
	Artist       string  `json:"artistName"`
	Album        string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

var lrcTag = regexp.MustCompile(`^(\[[0-9]{1,3}:[0-9]{2}(?:[.:][0-9]{1,3})?\])+`)

// Lines returns the non-empty lyric lines. Plain lyrics are preferred;
// synced lyrics are used with their time tags stripped.
func (t Track) Lines() []string {
	if t.Instrumental {
		return nil
	}

	text, synced := t.PlainLyrics, false
	if strings.TrimSpace(text) == "" {
		text, synced = t.SyncedLyrics, true
	}

	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if synced {
			line = lrcTag.ReplaceAllString(strings.TrimSpace(line), "")
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Payload turns the track into displayable content.
func (t Track) Payload() (models.SongPayload, error) {
	lines := t.Lines()
	if len(lines) == 0 {
		return models.SongPayload{}, fmt.Errorf("%w: %d", ErrNoLyrics, t.ID)
	}
	return models.SongPayload{Title: t.Name, Artist: t.Artist, Lines: lines}, nil
}

// Query narrows a search. Text is free text; the other fields match the
// track's metadata.
type Query struct {
	Text   string
	Track  string
	Artist string
	Album  string
}

func (q Query) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			v.Set(key, value)
		}
	}
	set("q", q.Text)
	set("track_name", q.Track)
	set("artist_name", q.Artist)
	set("album_name", q.Album)
	return v
}

// Client talks to the lyrics API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Search lists the tracks matching the query. Either free text or a track
// name is required.
func (c *Client) Search(ctx context.Context, q Query) ([]Track, error) {
	if strings.TrimSpace(q.Text) == "" && strings.TrimSpace(q.Track) == "" {
		return nil, errors.New("search needs a text or a track name")
	}

	body, err := c.get(ctx, "/search", q.values())
	if err != nil {
		return nil, err
	}

	tracks := []Track{}
	if err := json.Unmarshal(body, &tracks); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	return tracks, nil
}

// Get reads a track by its LRCLIB id.
func (c *Client) Get(ctx context.Context, id int64) (Track, error) {
	if id <= 0 {
		return Track{}, fmt.Errorf("invalid track id %d", id)
	}
	return c.track(ctx, "/get/"+strconv.FormatInt(id, 10), nil)
}

// Lookup reads the track with exactly this name and artist. Album and
// duration help the API pick a release when they are known.
func (c *Client) Lookup(ctx context.Context, track, artist, album string, duration int) (Track, error) {
	if strings.TrimSpace(track) == "" || strings.TrimSpace(artist) == "" {
		return Track{}, errors.New("lookup needs a track and an artist")
	}
	v := Query{Track: track, Artist: artist, Album: album}.values()
	if duration > 0 {
		v.Set("duration", strconv.Itoa(duration))
	}
	return c.track(ctx, "/get", v)
}

func (c *Client) track(ctx context.Context, path string, query url.Values) (Track, error) {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return Track{}, err
	}
	var t Track
	if err := json.Unmarshal(body, &t); err != nil {
		return Track{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return t, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "proyektor")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach lyrics api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read lyrics api response: %w", err)
	}
	logger.Debug("lyrics api", "url", u, "status", resp.StatusCode, "took", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{Status: resp.StatusCode, URL: u}
	}
	return body, nil
}
