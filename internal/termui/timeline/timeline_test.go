package timeline

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func plain() Option {
	return func(m *Model) {
		s := lipgloss.NewStyle()
		m.ThumbStyle, m.TrackStyle, m.MarkStyle = s, s, s
	}
}

func TestView(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		total int
		pos   int
		marks map[int]bool
		want  string
	}{
		{"live", 5, -1, nil, "----#"},
		{"first", 5, 0, nil, "#----"},
		{"middle", 5, 2, nil, "--#--"},
		{"last", 5, 4, nil, "----#"},
		{"marks", 5, 0, map[int]bool{3: true, 1: false}, "#--x-"},
		{"thumb wins over a mark", 5, 3, map[int]bool{3: true}, "---#-"},
		{"more steps than cells", 100, 50, nil, "--#--"},
		{"empty", 0, -1, nil, "----#"},
	} {
		m := New(WithWidth(5), WithChars("#", "-", "x"), plain())
		m.Total, m.Position, m.Marks = tc.total, tc.pos, tc.marks
		assert.Equal(t, tc.want, m.View(), tc.name)
	}
}

func TestView_NoWidth(t *testing.T) {
	t.Parallel()

	assert.Empty(t, New().View())
}

func TestCell(t *testing.T) {
	t.Parallel()

	m := New(WithWidth(11))
	m.Total = 3
	assert.Equal(t, 0, m.Cell(0))
	assert.Equal(t, 5, m.Cell(1))
	assert.Equal(t, 10, m.Cell(2))
	assert.Equal(t, 10, m.Cell(7), "clamped")
	assert.Equal(t, 0, m.Cell(-3), "clamped")

	m.Total = 1
	assert.Equal(t, 10, m.Cell(0))
}
