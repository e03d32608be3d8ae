// Package display provides Display implementations: a styled terminal
// renderer for development hosts and a recording display for tests.
package display

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Terminal renders glyphs and captions to a writer with lipgloss styling.
// It stands in for the device's panel when running on a host.
type Terminal struct {
	out     io.Writer
	columns int

	glyphStyle   lipgloss.Style
	captionStyle lipgloss.Style
}

// NewTerminal creates a terminal display of the given width.
func NewTerminal(out io.Writer, columns int) *Terminal {
	return &Terminal{
		out:     out,
		columns: columns,
		glyphStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		captionStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(columns),
	}
}

// Render implements repositories.Display.
func (t *Terminal) Render(glyph string, caption string) error {
	line := t.glyphStyle.Render(glyph)
	if caption != "" {
		line += " " + t.captionStyle.Render(caption)
	}
	_, err := fmt.Fprintln(t.out, line)
	return err
}

// Close implements repositories.Display.
func (t *Terminal) Close() error { return nil }

// Recorder is a Display for tests which remembers every rendered frame.
type Recorder struct {
	Frames []RecordedFrame
}

// RecordedFrame is one Render call.
type RecordedFrame struct {
	Glyph   string
	Caption string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Render implements repositories.Display.
func (r *Recorder) Render(glyph string, caption string) error {
	r.Frames = append(r.Frames, RecordedFrame{Glyph: glyph, Caption: caption})
	return nil
}

// Close implements repositories.Display.
func (r *Recorder) Close() error { return nil }
