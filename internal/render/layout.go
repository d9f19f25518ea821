package render

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rivo/uniseg"
)

// Styles colours a listing.
type Styles struct {
	Gutter  lipgloss.Style
	Source  lipgloss.Style
	Marker  lipgloss.Style
	Value   lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Header  lipgloss.Style
}

// DefaultStyles is the coloured scheme used on terminals.
func DefaultStyles() Styles {
	return Styles{
		Gutter:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Source:  lipgloss.NewStyle(),
		Marker:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Value:   lipgloss.NewStyle().Foreground(lipgloss.Color("36")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Header:  lipgloss.NewStyle().Bold(true),
	}
}

// PlainStyles renders without any styling.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{Gutter: plain, Source: plain, Marker: plain, Value: plain, Error: plain, Warning: plain, Header: plain}
}

// Listing lays out a source file with decorations beside their lines.
type Listing struct {
	File   string
	Source string
	// Width caps each output line in display cells; 0 means unlimited.
	Width  int
	Styles Styles
}

// Render returns the annotated listing. Decorations on the same line are
// ordered by column; consecutive values of the same site collapse into one
// comma-separated group. Decorations outside the file's lines are listed
// after it.
func (l Listing) Render(ds []Decoration) string {
	lines := strings.Split(strings.TrimSuffix(l.Source, "\n"), "\n")
	byLine := make(map[int][]Decoration)
	var stray []Decoration
	for _, d := range ds {
		if d.Line < 1 || d.Line > len(lines) {
			stray = append(stray, d)
			continue
		}
		byLine[d.Line] = append(byLine[d.Line], d)
	}

	gutterWidth := len(fmt.Sprint(len(lines)))
	var b strings.Builder
	if l.File != "" {
		b.WriteString(l.Styles.Header.Render(l.File) + "\n")
	}
	for i, line := range lines {
		n := i + 1
		prefix := fmt.Sprintf("%*d │ ", gutterWidth, n)
		text := strings.ReplaceAll(line, "\t", "    ")
		used := uniseg.StringWidth(prefix) + uniseg.StringWidth(text)
		out := l.Styles.Gutter.Render(prefix) + l.Styles.Source.Render(text)
		if group := byLine[n]; len(group) > 0 {
			out += l.decorations(group, used)
		}
		b.WriteString(out + "\n")
	}
	for _, d := range stray {
		b.WriteString(l.style(d).Render(Truncate(d.Text(), l.Width)) + "\n")
	}
	return b.String()
}

func (l Listing) decorations(group []Decoration, used int) string {
	slices.SortStableFunc(group, func(a, b Decoration) int { return cmp.Compare(a.Col, b.Col) })

	type chunk struct {
		text  string
		style lipgloss.Style
	}
	var chunks []chunk
	for i := 0; i < len(group); {
		d := group[i]
		values := []string{d.Value}
		j := i + 1
		for ; j < len(group) && group[j].ContextID == d.ContextID; j++ {
			values = append(values, group[j].Value)
		}
		merged := d
		merged.Value = strings.Join(values, ", ")
		chunks = append(chunks, chunk{merged.Text(), l.style(merged)})
		i = j
	}

	const marker, sep = "  ▸ ", "  │ "
	room := 0
	if l.Width > 0 {
		room = l.Width - used - uniseg.StringWidth(marker)
		if room < 1 {
			return ""
		}
	}
	out := l.Styles.Marker.Render(marker)
	for i, c := range chunks {
		text := c.text
		if i > 0 {
			text = sep + text
		}
		if l.Width > 0 {
			w := uniseg.StringWidth(text)
			if w > room {
				if room > 0 {
					out += c.style.Render(Truncate(text, room))
				}
				break
			}
			room -= w
		}
		out += c.style.Render(text)
	}
	return out
}

func (l Listing) style(d Decoration) lipgloss.Style {
	switch {
	case d.Error:
		return l.Styles.Error
	case d.Warning:
		return l.Styles.Warning
	}
	return l.Styles.Value
}
