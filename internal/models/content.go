package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ContentKind discriminates the payload carried by a Content.
type ContentKind string

const (
	KindVerse        ContentKind = "verse"
	KindSong         ContentKind = "song"
	KindAnnouncement ContentKind = "announcement"
	KindImage        ContentKind = "image"
)

// Payload is the kind-specific body of a Content. The concrete types are
// VersePayload, SongPayload, AnnouncementPayload and ImagePayload.
type Payload interface {
	Kind() ContentKind
	Validate() error
}

// VersePayload is a Bible passage.
type VersePayload struct {
	Text      string `json:"text"`
	Reference string `json:"reference,omitempty"`
}

func (VersePayload) Kind() ContentKind { return KindVerse }

func (p VersePayload) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return &InvalidContentError{Kind: string(KindVerse), Reason: "payload.text is required"}
	}
	return nil
}

// SongPayload is a set of lyric lines.
type SongPayload struct {
	Title  string   `json:"title"`
	Artist string   `json:"artist,omitempty"`
	Lines  []string `json:"lines"`
}

func (SongPayload) Kind() ContentKind { return KindSong }

func (p SongPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return &InvalidContentError{Kind: string(KindSong), Reason: "payload.title is required"}
	}
	if len(p.Lines) == 0 {
		return &InvalidContentError{Kind: string(KindSong), Reason: "payload.lines must not be empty"}
	}
	return nil
}

// AnnouncementPayload is free text shown between readings.
type AnnouncementPayload struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

func (AnnouncementPayload) Kind() ContentKind { return KindAnnouncement }

func (p AnnouncementPayload) Validate() error {
	if strings.TrimSpace(p.Body) == "" {
		return &InvalidContentError{Kind: string(KindAnnouncement), Reason: "payload.body is required"}
	}
	return nil
}

// ImagePayload points the display at an image.
type ImagePayload struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

func (ImagePayload) Kind() ContentKind { return KindImage }

func (p ImagePayload) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return &InvalidContentError{Kind: string(KindImage), Reason: "payload.url is required"}
	}
	return nil
}

// Content is one item shown on the display. It is immutable once created;
// Timestamp doubles as its identity.
type Content struct {
	Kind      ContentKind
	Payload   Payload
	Timestamp int64
}

// NewContent wraps a payload. The timestamp is assigned by whoever queues it.
func NewContent(p Payload) Content {
	return Content{Kind: p.Kind(), Payload: p}
}

// Validate checks that kind and payload agree and that the payload is complete.
func (c Content) Validate() error {
	if c.Payload == nil {
		return &InvalidContentError{Kind: string(c.Kind), Reason: "payload is required"}
	}
	if c.Payload.Kind() != c.Kind {
		return &InvalidContentError{Kind: string(c.Kind), Reason: fmt.Sprintf("payload is %s", c.Payload.Kind())}
	}
	return c.Payload.Validate()
}

// Summary is a short human-readable description, used in logs and renderers.
func (c Content) Summary() string {
	switch p := c.Payload.(type) {
	case VersePayload:
		if p.Reference != "" {
			return p.Reference
		}
		return truncate(p.Text, 40)
	case SongPayload:
		return p.Title
	case AnnouncementPayload:
		if p.Title != "" {
			return p.Title
		}
		return truncate(p.Body, 40)
	case ImagePayload:
		return p.URL
	default:
		return string(c.Kind)
	}
}

type contentJSON struct {
	Kind      ContentKind     `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contentJSON{Kind: c.Kind, Payload: payload, Timestamp: c.Timestamp})
}

// UnmarshalJSON decodes and validates content. Malformed input yields an
// *InvalidContentError.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw contentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return &InvalidContentError{Reason: err.Error()}
	}

	payload, err := decodePayload(raw.Kind, raw.Payload)
	if err != nil {
		return err
	}

	decoded := Content{Kind: raw.Kind, Payload: payload, Timestamp: raw.Timestamp}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*c = decoded
	return nil
}

func decodePayload(kind ContentKind, raw json.RawMessage) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, &InvalidContentError{Kind: string(kind), Reason: "payload is required"}
	}

	switch kind {
	case KindVerse:
		var p VersePayload
		if err := unmarshalPayload(kind, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindSong:
		var p SongPayload
		if err := unmarshalPayload(kind, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindAnnouncement:
		var p AnnouncementPayload
		if err := unmarshalPayload(kind, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindImage:
		var p ImagePayload
		if err := unmarshalPayload(kind, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, &InvalidContentError{Kind: string(kind), Reason: "unknown content kind"}
	}
}

func unmarshalPayload(kind ContentKind, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &InvalidContentError{Kind: string(kind), Reason: err.Error()}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// ContentLogEntry is one row of the shown-content log.
type ContentLogEntry struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Kind      ContentKind `json:"kind"`
	Summary   string      `json:"summary"`
	Content   Content     `json:"content"`
	ShownAt   time.Time   `json:"shownAt"`
}
