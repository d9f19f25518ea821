// Package timeline renders a one-row position indicator for stepping
// through a sequence, such as the payloads of a run.
package timeline

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Model is the state of a timeline bar.
type Model struct {
	// Total is the number of steps in the sequence.
	Total int
	// Position is the 0-based current step, or -1 for "live" (past the end).
	Position int
	// Width is the bar width in cells.
	Width int
	// Marks are steps to flag, e.g. errors.
	Marks map[int]bool

	ThumbStyle lipgloss.Style
	TrackStyle lipgloss.Style
	MarkStyle  lipgloss.Style

	ThumbChar string
	TrackChar string
	MarkChar  string
}

// Option is used to set options in New.
type Option func(*Model)

// New creates a timeline with default styling.
func New(opts ...Option) Model {
	m := Model{
		Position:   -1,
		ThumbChar:  "█",
		TrackChar:  "─",
		MarkChar:   "╳",
		ThumbStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("57")),
		TrackStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		MarkStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// WithWidth sets the bar width.
func WithWidth(w int) Option {
	return func(m *Model) { m.Width = w }
}

// WithChars sets the thumb, track and mark characters.
func WithChars(thumb, track, mark string) Option {
	return func(m *Model) {
		m.ThumbChar, m.TrackChar, m.MarkChar = thumb, track, mark
	}
}

// Cell maps a step onto a cell of the bar. Steps spread evenly, and with
// more steps than cells several steps share one.
func (m Model) Cell(step int) int {
	if m.Width <= 0 || m.Total <= 1 {
		return m.Width - 1
	}
	step = max(0, min(step, m.Total-1))
	return step * (m.Width - 1) / (m.Total - 1)
}

// View renders the bar, exactly Width cells wide. A live position puts the
// thumb on the last cell.
func (m Model) View() string {
	if m.Width <= 0 {
		return ""
	}
	thumb := m.Width - 1
	if m.Position >= 0 && m.Total > 0 {
		thumb = m.Cell(m.Position)
	}
	marked := make(map[int]bool, len(m.Marks))
	for step, ok := range m.Marks {
		if ok {
			marked[m.Cell(step)] = true
		}
	}

	var b strings.Builder
	for i := range m.Width {
		switch {
		case i == thumb:
			b.WriteString(m.ThumbStyle.Render(m.ThumbChar))
		case marked[i]:
			b.WriteString(m.MarkStyle.Render(m.MarkChar))
		default:
			b.WriteString(m.TrackStyle.Render(m.TrackChar))
		}
	}
	return b.String()
}
