package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"proyektor/internal/models"
)

const clearScreen = "\x1b[H\x1b[2J"

// TerminalRenderer projects frames onto a terminal.
type TerminalRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	width  int
	height int
	clear  bool
}

// NewTerminalRenderer renders into out using a width x height cell area.
// clear redraws from the top-left corner on every frame.
func NewTerminalRenderer(out io.Writer, width, height int, clear bool) *TerminalRenderer {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	return &TerminalRenderer{out: out, width: width, height: height, clear: clear}
}

func (r *TerminalRenderer) Render(f Frame) error {
	view := r.View(f)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clear {
		if _, err := io.WriteString(r.out, clearScreen); err != nil {
			return err
		}
	}
	_, err := io.WriteString(r.out, view+"\n")
	return err
}

// View returns the styled frame without writing it.
func (r *TerminalRenderer) View(f Frame) string {
	bg := lipgloss.Color(f.Config.BackgroundColor)
	fg := lipgloss.Color(f.Config.TextColor)

	base := lipgloss.NewStyle().
		Width(r.width).
		Height(r.height).
		Background(bg).
		Foreground(fg).
		Align(lipgloss.Center, lipgloss.Center)

	if f.Black || f.Content == nil {
		return lipgloss.NewStyle().
			Width(r.width).
			Height(r.height).
			Background(lipgloss.Color("#000000")).
			Render("")
	}

	return base.Render(contentBody(*f.Content, r.width-4))
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	referenceStyle = lipgloss.NewStyle().Italic(true)
	captionStyle   = lipgloss.NewStyle().Faint(true)
)

func contentBody(c models.Content, width int) string {
	wrap := lipgloss.NewStyle().Width(width).Align(lipgloss.Center)

	switch p := c.Payload.(type) {
	case models.VersePayload:
		body := wrap.Render(p.Text)
		if p.Reference == "" {
			return body
		}
		return lipgloss.JoinVertical(lipgloss.Center, body, "", referenceStyle.Render(p.Reference))
	case models.SongPayload:
		parts := []string{titleStyle.Render(p.Title)}
		if p.Artist != "" {
			parts = append(parts, captionStyle.Render(p.Artist))
		}
		parts = append(parts, "", wrap.Render(strings.Join(p.Lines, "\n")))
		return lipgloss.JoinVertical(lipgloss.Center, parts...)
	case models.AnnouncementPayload:
		if p.Title == "" {
			return wrap.Render(p.Body)
		}
		return lipgloss.JoinVertical(lipgloss.Center, titleStyle.Render(p.Title), "", wrap.Render(p.Body))
	case models.ImagePayload:
		parts := []string{fmt.Sprintf("[image] %s", p.URL)}
		if p.Caption != "" {
			parts = append(parts, captionStyle.Render(p.Caption))
		}
		return lipgloss.JoinVertical(lipgloss.Center, parts...)
	default:
		return string(c.Kind)
	}
}

// Recorder keeps every rendered frame. Tests use it as a renderer.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (r *Recorder) Render(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f.Content != nil {
		c := *f.Content
		f.Content = &c
	}
	r.frames = append(r.frames, f)
	return r.err
}

// FailWith makes subsequent renders return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

// Last returns the most recent frame.
func (r *Recorder) Last() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}
