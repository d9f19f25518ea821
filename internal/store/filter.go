package store

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/marshal"
	"github.com/joeycumines/liveeval/internal/protocol"
)

// Predicate selects payloads. ctx is the payload's capture context, or a
// context holding only the id when the site is unknown.
type Predicate func(p protocol.Payload, ctx instrument.CaptureContext) bool

// All accepts every payload.
func All(protocol.Payload, instrument.CaptureContext) bool { return true }

// FilterEnv is what a filter expression sees.
type FilterEnv struct {
	ID      int64  `expr:"id"`
	Context int    `expr:"context"`
	Kind    string `expr:"kind"`
	File    string `expr:"file"`
	Line    int    `expr:"line"`
	Name    string `expr:"name"`
	Text    string `expr:"text"`
	Error   bool   `expr:"isError"`
	Promise string `expr:"promise"`
	Type    string `expr:"valueKind"`
	Value   any    `expr:"value"`
}

func newFilterEnv(p protocol.Payload, ctx instrument.CaptureContext) FilterEnv {
	env := FilterEnv{
		ID:      int64(p.ID),
		Context: p.ContextID,
		Kind:    string(ctx.Kind),
		File:    ctx.File,
		Line:    ctx.LineStart,
		Name:    ctx.Name,
		Text:    ctx.SourceText,
		Error:   p.IsError,
		Promise: p.Promise,
		Type:    string(p.Result.Kind),
	}
	switch p.Result.Kind {
	case marshal.KindNumber:
		env.Value = p.Result.Number
	case marshal.KindBoolean:
		env.Value = p.Result.Bool
	case marshal.KindString, marshal.KindBigInt, marshal.KindSymbol, marshal.KindDate, marshal.KindRegExp, marshal.KindError:
		env.Value = p.Result.Text
	}
	return env
}

// CompileFilter compiles a boolean expr-lang expression over FilterEnv into a
// Predicate, e.g. `kind == "variable" && line < 10`. An empty source selects
// everything. Evaluation errors reject the payload.
func CompileFilter(source string) (Predicate, error) {
	if source == "" {
		return All, nil
	}
	program, err := expr.Compile(source, expr.Env(FilterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", source, err)
	}
	return func(p protocol.Payload, ctx instrument.CaptureContext) bool {
		return runFilter(program, source, newFilterEnv(p, ctx))
	}, nil
}

func runFilter(program *vm.Program, source string, env FilterEnv) bool {
	out, err := expr.Run(program, env)
	if err != nil {
		slog.Debug("filter evaluation failed", "filter", source, "payload", env.ID, "error", err)
		return false
	}
	b, _ := out.(bool)
	return b
}
