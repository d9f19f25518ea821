package render

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/protocol"
)

var title = cases.Title(language.Und)

// KindLabel is the human-readable name of a capture kind, e.g.
// "Loop Variable".
func KindLabel(k instrument.Kind) string {
	return title.String(strings.ReplaceAll(string(k), "-", " "))
}

// Decoration is one payload, summarized for display next to its site.
type Decoration struct {
	ContextID int
	Line      int
	Col       int
	// Label names what was captured (a variable, "return", ...) and may be
	// empty.
	Label   string
	Value   string
	Error   bool
	Warning bool
}

// Text is the decoration as a single string.
func (d Decoration) Text() string {
	if d.Label == "" {
		return d.Value
	}
	return d.Label + " = " + d.Value
}

// Describe summarizes p, captured at site c.
func Describe(p protocol.Payload, c instrument.CaptureContext) Decoration {
	d := Decoration{ContextID: c.ID, Line: c.LineStart, Col: c.ColStart}
	switch c.Kind {
	case instrument.KindVariable, instrument.KindAssignment, instrument.KindLoopVariable:
		d.Label = c.Name
		d.Value = Inline(p.Result)
	case instrument.KindReturn:
		d.Value = "↩ " + Inline(p.Result)
	case instrument.KindConsole:
		parts := make([]string, len(p.Entries))
		for i, e := range p.Entries {
			parts[i] = Bare(e.Value)
		}
		d.Value = strings.Join(parts, " ")
	case instrument.KindBuildWarning:
		d.Warning = true
		d.Value = "⚠ " + Bare(p.Result)
	case instrument.KindWindowError, instrument.KindBuildError:
		d.Error = true
		d.Value = "✖ " + Bare(p.Result)
	default:
		d.Value = Inline(p.Result)
	}
	if p.IsError && !d.Error && !d.Warning {
		d.Error = true
		d.Value = "✖ " + d.Value
	}
	return d
}

// Lookup resolves a context id to its capture site.
type Lookup func(id int) (instrument.CaptureContext, bool)

// Decorate describes every payload whose site lies in file. Payloads with
// no known site are skipped.
func Decorate(file string, payloads []protocol.Payload, lookup Lookup) []Decoration {
	var out []Decoration
	for _, p := range payloads {
		c, ok := lookup(p.ContextID)
		if !ok || c.File != file {
			continue
		}
		out = append(out, Describe(p, c))
	}
	return out
}
