package models

import (
	"errors"
	"fmt"
)

// PresentationConfig is the look and window state of the projection.
type PresentationConfig struct {
	FontSize        int    `json:"fontSize"`
	BackgroundColor string `json:"backgroundColor"`
	TextColor       string `json:"textColor"`
	TransitionMs    int    `json:"transitionMs"`
	FontFamily      string `json:"fontFamily"`
	IsFullScreen    bool   `json:"isFullScreen"`
	IsWindowOpen    bool   `json:"isWindowOpen"`
}

// DefaultConfig returns the configuration used before anything is persisted.
func DefaultConfig() PresentationConfig {
	return PresentationConfig{
		FontSize:        32,
		BackgroundColor: "#000000",
		TextColor:       "#ffffff",
		TransitionMs:    500,
		FontFamily:      "Arial",
	}
}

// Validate rejects configurations the display cannot render.
func (c PresentationConfig) Validate() error {
	if c.FontSize <= 0 {
		return fmt.Errorf("fontSize must be positive, got %d", c.FontSize)
	}
	if c.TransitionMs < 0 {
		return fmt.Errorf("transitionMs must not be negative, got %d", c.TransitionMs)
	}
	return nil
}

// ConfigPatch is a partial PresentationConfig. Nil fields are left unchanged.
type ConfigPatch struct {
	FontSize        *int    `json:"fontSize,omitempty"`
	BackgroundColor *string `json:"backgroundColor,omitempty"`
	TextColor       *string `json:"textColor,omitempty"`
	TransitionMs    *int    `json:"transitionMs,omitempty"`
	FontFamily      *string `json:"fontFamily,omitempty"`
	IsFullScreen    *bool   `json:"isFullScreen,omitempty"`
	IsWindowOpen    *bool   `json:"isWindowOpen,omitempty"`
}

// Apply returns c with every non-nil field of p merged in.
func (c PresentationConfig) Apply(p ConfigPatch) PresentationConfig {
	if p.FontSize != nil {
		c.FontSize = *p.FontSize
	}
	if p.BackgroundColor != nil {
		c.BackgroundColor = *p.BackgroundColor
	}
	if p.TextColor != nil {
		c.TextColor = *p.TextColor
	}
	if p.TransitionMs != nil {
		c.TransitionMs = *p.TransitionMs
	}
	if p.FontFamily != nil {
		c.FontFamily = *p.FontFamily
	}
	if p.IsFullScreen != nil {
		c.IsFullScreen = *p.IsFullScreen
	}
	if p.IsWindowOpen != nil {
		c.IsWindowOpen = *p.IsWindowOpen
	}
	return c
}

// IsEmpty reports whether the patch changes nothing.
func (p ConfigPatch) IsEmpty() bool {
	return p == ConfigPatch{}
}

// FullPatch turns a complete config into a patch that overwrites every field.
func FullPatch(c PresentationConfig) ConfigPatch {
	return ConfigPatch{
		FontSize:        &c.FontSize,
		BackgroundColor: &c.BackgroundColor,
		TextColor:       &c.TextColor,
		TransitionMs:    &c.TransitionMs,
		FontFamily:      &c.FontFamily,
		IsFullScreen:    &c.IsFullScreen,
		IsWindowOpen:    &c.IsWindowOpen,
	}
}

// WindowPosition is the geometry of the display window.
type WindowPosition struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultWindowPosition is used when no screen information is available.
func DefaultWindowPosition() WindowPosition {
	return WindowPosition{Width: 800, Height: 600}
}

// AckStatus is the outcome reported by a display for one content item.
type AckStatus string

const (
	AckSuccess AckStatus = "success"
	AckError   AckStatus = "error"
)

// Ack confirms that a display received and applied a content item.
type Ack struct {
	ID      string    `json:"id"`
	Status  AckStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

// Validate rejects acknowledgements that cannot be correlated.
func (a Ack) Validate() error {
	if a.ID == "" {
		return &InvalidContentError{Kind: "contentAck", Reason: "id is required"}
	}
	switch a.Status {
	case AckSuccess, AckError:
		return nil
	default:
		return &InvalidContentError{Kind: "contentAck", Reason: fmt.Sprintf("unknown status %q", a.Status)}
	}
}

// ErrorNotice is the payload of an "error" message.
type ErrorNotice struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ErrInvalidContent matches every InvalidContentError.
var ErrInvalidContent = errors.New("invalid content")

// InvalidContentError reports a malformed payload received from a peer or a caller.
type InvalidContentError struct {
	Kind   string
	Reason string
}

func (e *InvalidContentError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("invalid content: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s content: %s", e.Kind, e.Reason)
}

func (e *InvalidContentError) Is(target error) bool {
	return target == ErrInvalidContent
}
