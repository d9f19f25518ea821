package build

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/joeycumines/liveeval/internal/instrument"
)

// Diagnostic is one build error or warning. Line and Column are 1-based;
// zero means unknown.
type Diagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Text     string `json:"text"`
	LineText string `json:"lineText,omitempty"`
}

func (d Diagnostic) String() string {
	if d.File == "" {
		return d.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Text)
}

// Context returns a capture context describing d, so it can be decorated in
// place like any captured value.
func (d Diagnostic) Context(id int, kind instrument.Kind) instrument.CaptureContext {
	line := max(d.Line, 1)
	col := max(d.Column, 1)
	return instrument.CaptureContext{
		ID:         id,
		Kind:       kind,
		File:       d.File,
		LineStart:  line,
		LineEnd:    line,
		ColStart:   col,
		ColEnd:     col + 1,
		SourceText: strings.TrimSpace(d.LineText),
	}
}

// Error is a failed build.
type Error struct {
	Diagnostics []Diagnostic
	// Warnings reported alongside the errors.
	Warnings []Diagnostic
}

func (e *Error) Error() string {
	switch len(e.Diagnostics) {
	case 0:
		return "build failed"
	case 1:
		return "build: " + e.Diagnostics[0].String()
	}
	return fmt.Sprintf("build: %s (and %d more)", e.Diagnostics[0], len(e.Diagnostics)-1)
}

func diagnostics(msgs []api.Message) []Diagnostic {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		d := Diagnostic{Text: m.Text}
		if loc := m.Location; loc != nil {
			d.File = strings.TrimPrefix(loc.File, namespace+":")
			d.Line = loc.Line
			d.Column = loc.Column + 1
			d.LineText = loc.LineText
		}
		out = append(out, d)
	}
	return out
}
