package models

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestContentJSONShape(t *testing.T) {
	c := NewContent(VersePayload{Text: "In the beginning...", Reference: "Genesis 1:1"})
	c.Timestamp = 42

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	want := `{"kind":"verse","payload":{"text":"In the beginning...","reference":"Genesis 1:1"},"timestamp":42}`
	if string(data) != want {
		t.Errorf("unexpected json:\n got %s\nwant %s", data, want)
	}

	var back Content
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(back, c) {
		t.Errorf("round trip mismatch: %+v vs %+v", back, c)
	}
}

func TestContentDecodesEveryKind(t *testing.T) {
	tests := []struct {
		name string
		json string
		want Payload
	}{
		{"verse", `{"kind":"verse","payload":{"text":"Jesus wept."}}`, VersePayload{Text: "Jesus wept."}},
		{"song", `{"kind":"song","payload":{"title":"Dios esta aqui","lines":["a","b"]}}`, SongPayload{Title: "Dios esta aqui", Lines: []string{"a", "b"}}},
		{"announcement", `{"kind":"announcement","payload":{"body":"Welcome"}}`, AnnouncementPayload{Body: "Welcome"}},
		{"image", `{"kind":"image","payload":{"url":"/slides/1.png"}}`, ImagePayload{URL: "/slides/1.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			if err := json.Unmarshal([]byte(tt.json), &c); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if !reflect.DeepEqual(c.Payload, tt.want) {
				t.Errorf("expected %+v, got %+v", tt.want, c.Payload)
			}
			if c.Kind != tt.want.Kind() {
				t.Errorf("expected kind %s, got %s", tt.want.Kind(), c.Kind)
			}
		})
	}
}

func TestContentRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"verse without payload", `{"kind":"verse"}`},
		{"verse without text", `{"kind":"verse","payload":{"reference":"John 11:35"}}`},
		{"unknown kind", `{"kind":"video","payload":{"url":"x"}}`},
		{"song without lines", `{"kind":"song","payload":{"title":"x"}}`},
		{"payload wrong type", `{"kind":"image","payload":"not-an-object"}`},
		{"not an object", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			err := json.Unmarshal([]byte(tt.json), &c)
			if err == nil {
				t.Fatalf("expected error, decoded %+v", c)
			}
			if !errors.Is(err, ErrInvalidContent) {
				t.Errorf("expected ErrInvalidContent, got %v", err)
			}
			var ice *InvalidContentError
			if !errors.As(err, &ice) {
				t.Errorf("expected *InvalidContentError, got %T", err)
			}
		})
	}
}

func TestContentValidateKindMismatch(t *testing.T) {
	c := Content{Kind: KindSong, Payload: VersePayload{Text: "x"}}
	if err := c.Validate(); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("expected invalid content for kind mismatch, got %v", err)
	}
}

func TestConfigApplyPatch(t *testing.T) {
	cfg := DefaultConfig()
	size := 48
	open := true

	got := cfg.Apply(ConfigPatch{FontSize: &size, IsWindowOpen: &open})

	if got.FontSize != 48 || !got.IsWindowOpen {
		t.Errorf("patch not applied: %+v", got)
	}
	if got.BackgroundColor != cfg.BackgroundColor || got.TransitionMs != cfg.TransitionMs {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if cfg.FontSize != 32 {
		t.Errorf("Apply must not mutate receiver, got fontSize %d", cfg.FontSize)
	}
}

func TestConfigPatchJSONOmitsNil(t *testing.T) {
	full := true
	data, err := json.Marshal(ConfigPatch{IsFullScreen: &full})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"isFullScreen":true}` {
		t.Errorf("unexpected patch json: %s", data)
	}
	if !(ConfigPatch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.FontSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero font size")
	}
	cfg = DefaultConfig()
	cfg.TransitionMs = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative transition")
	}
}

func TestAckValidate(t *testing.T) {
	if err := (Ack{ID: "1", Status: AckSuccess}).Validate(); err != nil {
		t.Errorf("valid ack rejected: %v", err)
	}
	if err := (Ack{Status: AckSuccess}).Validate(); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("expected invalid content for missing id, got %v", err)
	}
	if err := (Ack{ID: "1", Status: "maybe"}).Validate(); !errors.Is(err, ErrInvalidContent) {
		t.Errorf("expected invalid content for unknown status, got %v", err)
	}
}
