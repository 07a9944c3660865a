// Package bible is the client of the public Bible content API. It lists the
// available versions and reads verses and verse ranges.
package bible

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"proyektor/internal/logger"
	"proyektor/internal/models"
)

const DefaultBaseURL = "https://bible-api.deno.dev/api"

// ErrNotFound is returned when the API has no such version or passage.
var ErrNotFound = errors.New("bible: not found")

// APIError is a non-2xx answer from the content API.
type APIError struct {
	Status int
	URL    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bible api %s: status %d", e.URL, e.Status)
}

// Version is one Bible translation.
type Version struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	URI     string `json:"uri"`
}

// Versions is the version list with one sample endpoint per version.
type Versions struct {
	Versions  []Version `json:"versions"`
	Endpoints []string  `json:"endpoints"`
}

// Verse is a numbered verse.
type Verse struct {
	Number int    `json:"number"`
	Text   string `json:"verse"`
	Study  string `json:"study,omitempty"`
}

// Passage is the answer to a verse or range lookup.
type Passage struct {
	Version string  `json:"version"`
	Book    string  `json:"book"`
	Chapter int     `json:"chapter"`
	Verse   int     `json:"verse"`
	Range   string  `json:"range,omitempty"`
	Verses  []Verse `json:"text"`
}

// Reference formats the passage like "juan 3:16-18".
func (p Passage) Reference() string {
	ref := fmt.Sprintf("%s %d:%d", p.Book, p.Chapter, p.Verse)
	if p.Range != "" {
		ref += "-" + p.Range
	}
	return ref
}

// Text joins the verses, numbering them when there is more than one.
func (p Passage) Text() string {
	if len(p.Verses) == 1 {
		return strings.TrimSpace(p.Verses[0].Text)
	}
	parts := make([]string, 0, len(p.Verses))
	for _, v := range p.Verses {
		parts = append(parts, fmt.Sprintf("%d %s", v.Number, strings.TrimSpace(v.Text)))
	}
	return strings.Join(parts, " ")
}

// Payload turns the passage into displayable content.
func (p Passage) Payload() models.VersePayload {
	return models.VersePayload{Text: p.Text(), Reference: p.Reference()}
}

// Client talks to the content API.
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

// Versions lists the versions the API offers. Version codes are the
// lower-cased names without spaces, and ids follow the API order.
func (c *Client) Versions(ctx context.Context) (Versions, error) {
	body, err := c.get(ctx, "/versions")
	if err != nil {
		return Versions{}, err
	}

	var raw []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Versions{}, fmt.Errorf("failed to decode versions: %w", err)
	}
	if len(raw) == 0 {
		return Versions{}, fmt.Errorf("%w: empty version list", ErrNotFound)
	}

	out := Versions{
		Versions:  make([]Version, 0, len(raw)),
		Endpoints: make([]string, 0, len(raw)),
	}
	for i, v := range raw {
		code := strings.ToLower(strings.ReplaceAll(v.Name, " ", ""))
		uri := "/api/read/" + code
		out.Versions = append(out.Versions, Version{ID: i + 1, Name: v.Name, Version: code, URI: uri})
		out.Endpoints = append(out.Endpoints, uri+"/genesis/1")
	}
	return out, nil
}

// Verse reads a single verse.
func (c *Client) Verse(ctx context.Context, version, book string, chapter, verse int) (Passage, error) {
	return c.read(ctx, version, book, chapter, verse, "")
}

// VerseRange reads verses from..to of a chapter.
func (c *Client) VerseRange(ctx context.Context, version, book string, chapter, from, to int) (Passage, error) {
	if to < from {
		return Passage{}, fmt.Errorf("invalid range %d-%d", from, to)
	}
	return c.read(ctx, version, book, chapter, from, strconv.Itoa(to))
}

func (c *Client) read(ctx context.Context, version, book string, chapter, verse int, to string) (Passage, error) {
	if version == "" || book == "" || chapter <= 0 || verse <= 0 {
		return Passage{}, fmt.Errorf("invalid passage %s %s %d:%d", version, book, chapter, verse)
	}

	path := fmt.Sprintf("/read/%s/%s/%d/%d", url.PathEscape(version), url.PathEscape(book), chapter, verse)
	if to != "" {
		path += "-" + to
	}

	body, err := c.get(ctx, path)
	if err != nil {
		return Passage{}, err
	}

	verses, err := decodeVerses(body)
	if err != nil {
		return Passage{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(verses) == 0 {
		return Passage{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	return Passage{
		Version: version,
		Book:    book,
		Chapter: chapter,
		Verse:   verse,
		Range:   to,
		Verses:  verses,
	}, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach bible api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read bible api response: %w", err)
	}
	logger.Debug("bible api", "url", u, "status", resp.StatusCode, "took", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{Status: resp.StatusCode, URL: u}
	}
	return body, nil
}

// decodeVerses accepts a verse array, a single verse object, or either of
// those wrapped in a string that may use single quotes.
func decodeVerses(body []byte) ([]Verse, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	switch body[0] {
	case '[':
		var verses []Verse
		if err := json.Unmarshal(body, &verses); err != nil {
			return nil, err
		}
		return verses, nil
	case '{':
		var v Verse
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, err
		}
		return []Verse{v}, nil
	case '"':
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, err
		}
		return decodeRelaxed(s)
	default:
		return decodeRelaxed(string(body))
	}
}

func decodeRelaxed(s string) ([]Verse, error) {
	repaired := strings.TrimSpace(relaxedJSON(s))
	if repaired == "" || (repaired[0] != '[' && repaired[0] != '{') {
		return nil, fmt.Errorf("unexpected verse format %q", truncate(s, 40))
	}
	return decodeVerses([]byte(repaired))
}

// truncate cuts s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
