// Package instrument rewrites JavaScript source so that every observable
// evaluation point reports its value through a capture call.
//
// The transform is a pure, synchronous source-to-source pass. It parses the
// input with goja's parser, walks the resulting tree, and splices capture
// calls into the original text by byte offset. No newlines are ever inserted,
// so a line in the output always corresponds to the same line in the input.
package instrument

import (
	"fmt"
	"strings"
	"sync/atomic"
)

const (
	// CaptureFunc is the global binding every capture site calls with
	// (contextID, value). It returns value unchanged.
	CaptureFunc = "__live_capture"

	// MetaFunc is an inert marker binding, kept so serialized function
	// bodies that mention it still evaluate.
	MetaFunc = "__live_meta"

	// ReservedPrefix marks identifiers synthesized by the transform. Code
	// using this prefix is recognized as already instrumented.
	ReservedPrefix = "__live_"

	// DefaultLoopLimit is the iteration ceiling injected into unbounded loops.
	DefaultLoopLimit = 6000
)

// Kind classifies a capture site.
type Kind string

const (
	KindExpression   Kind = "expression"
	KindVariable     Kind = "variable"
	KindAssignment   Kind = "assignment"
	KindReturn       Kind = "return"
	KindLoopVariable Kind = "loop-variable"
	KindConsole      Kind = "console-call"
	KindWindowError  Kind = "window-error"
	KindBuildError   Kind = "build-error"
	KindBuildWarning Kind = "build-warning"
)

// Kinds lists every known Kind, in declaration order.
var Kinds = []Kind{
	KindExpression,
	KindVariable,
	KindAssignment,
	KindReturn,
	KindLoopVariable,
	KindConsole,
	KindWindowError,
	KindBuildError,
	KindBuildWarning,
}

// IsDiagnostic reports whether the kind describes an error or warning rather
// than an evaluated value.
func (k Kind) IsDiagnostic() bool {
	switch k {
	case KindWindowError, KindBuildError, KindBuildWarning:
		return true
	}
	return false
}

// CaptureContext is the static metadata describing one capture site. Lines
// and columns are 1-based; ColEnd is exclusive. Instances are immutable once
// emitted.
type CaptureContext struct {
	ID         int    `json:"id"`
	Kind       Kind   `json:"kind"`
	File       string `json:"file"`
	LineStart  int    `json:"lineStart"`
	LineEnd    int    `json:"lineEnd"`
	ColStart   int    `json:"colStart"`
	ColEnd     int    `json:"colEnd"`
	SourceText string `json:"sourceText"`
	// Name is the bound identifier or assignment target, if any.
	Name string `json:"name,omitempty"`
	// Method is the console method for KindConsole sites.
	Method string `json:"method,omitempty"`
	// ArgNames holds one entry per console argument; "" marks an argument
	// that is not a plain identifier.
	ArgNames []string `json:"argNames,omitempty"`
}

// String implements fmt.Stringer.
func (c CaptureContext) String() string {
	label := string(c.Kind)
	if c.Name != "" {
		label += " " + c.Name
	}
	return fmt.Sprintf("#%d %s @ %s:%d:%d", c.ID, label, c.File, c.LineStart, c.ColStart)
}

// Contains reports whether the 1-based position falls inside the context's
// source range.
func (c CaptureContext) Contains(line, col int) bool {
	if line < c.LineStart || line > c.LineEnd {
		return false
	}
	if line == c.LineStart && col < c.ColStart {
		return false
	}
	if line == c.LineEnd && col >= c.ColEnd {
		return false
	}
	return true
}

// Counter hands out context ids. It is owned by whoever drives the
// transform (usually one per host process) and threaded through each call,
// so ids stay unique across files and builds.
type Counter struct {
	n atomic.Int64
}

// NewCounter returns a Counter whose first id is seed+1.
func NewCounter(seed int) *Counter {
	c := new(Counter)
	c.n.Store(int64(seed))
	return c
}

// Next returns the next id.
func (c *Counter) Next() int {
	return int(c.n.Add(1))
}

// Last returns the most recently issued id (the seed if none).
func (c *Counter) Last() int {
	return int(c.n.Load())
}

// IsReserved reports whether name uses the synthesized-identifier prefix.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}
