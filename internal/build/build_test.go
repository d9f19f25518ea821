package build

import (
	"context"
	"errors"
	"testing"

	"github.com/dop251/goja"
	"github.com/go-sourcemap/sourcemap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/liveeval/internal/instrument"
)

type capture struct {
	id    int
	value any
}

func execute(t *testing.T, code string) []capture {
	t.Helper()
	vm := goja.New()
	var got []capture
	require.NoError(t, vm.Set(instrument.CaptureFunc, func(call goja.FunctionCall) goja.Value {
		got = append(got, capture{int(call.Argument(0).ToInteger()), call.Argument(1).Export()})
		return call.Argument(1)
	}))
	_, err := vm.RunScript(OutputFile, code)
	require.NoError(t, err)
	return got
}

func contextsByKind(out *Output, kind instrument.Kind) []instrument.CaptureContext {
	var cs []instrument.CaptureContext
	for _, c := range out.Contexts {
		if c.Kind == kind {
			cs = append(cs, c)
		}
	}
	return cs
}

func TestBuild_SingleFile(t *testing.T) {
	t.Parallel()

	src := "const x = 1 + 1;\n"
	b := NewBuilder(instrument.NewCounter(0), Options{})
	out, err := b.Build(context.Background(), Project{Files: map[string]string{"main.js": src}})
	require.NoError(t, err)

	require.Len(t, out.Contexts, 1)
	c := out.Contexts[0]
	assert.Equal(t, instrument.KindVariable, c.Kind)
	assert.Equal(t, "main.js", c.File)
	assert.Equal(t, "1 + 1", c.SourceText)

	got := execute(t, out.Code)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].id)
	assert.EqualValues(t, 2, got[0].value)

	sm, err := sourcemap.Parse(OutputFile+".map", []byte(out.SourceMap))
	require.NoError(t, err)
	assert.Equal(t, src, sm.SourceContent("main.js"), "the map carries the original source")

	doc := out.Document()
	assert.Equal(t, OutputFile, doc.File)
	assert.Equal(t, out.Contexts, doc.Contexts)
}

func TestBuild_RelativeImports(t *testing.T) {
	t.Parallel()

	b := NewBuilder(nil, Options{})
	out, err := b.Build(context.Background(), Project{Files: map[string]string{
		"main.js":      "import { double } from \"./lib/math\";\nconst y = double(2);\n",
		"lib/math.js":  "import { one } from \"../one\";\nexport function double(n) {\n  return n * 2 * one;\n}\n",
		"one/index.js": "export const one = 1;\n",
	}})
	require.NoError(t, err)

	files := map[string]bool{}
	var returns int
	for _, c := range out.Contexts {
		files[c.File] = true
		if c.Kind == instrument.KindReturn && c.File == "lib/math.js" && c.LineStart == 3 {
			returns++
		}
	}
	assert.True(t, files["main.js"])
	assert.True(t, files["lib/math.js"])
	assert.Equal(t, 1, returns, "module files are instrumented at their original positions")

	var y []any
	ys := contextsByKind(out, instrument.KindVariable)
	for _, g := range execute(t, out.Code) {
		for _, c := range ys {
			if c.ID == g.id && c.Name == "y" {
				y = append(y, g.value)
			}
		}
	}
	require.Len(t, y, 1)
	assert.EqualValues(t, 4, y[0])
}

func TestBuild_TypeScriptPositionsMapToOriginal(t *testing.T) {
	t.Parallel()

	b := NewBuilder(nil, Options{})
	out, err := b.Build(context.Background(), Project{Files: map[string]string{
		"main.ts": "interface P { x: number }\nconst n: number = 3;\nn * 2;\n",
	}})
	require.NoError(t, err)

	vars := contextsByKind(out, instrument.KindVariable)
	require.Len(t, vars, 1)
	assert.Equal(t, "main.ts", vars[0].File)
	assert.Equal(t, 2, vars[0].LineStart)

	exprs := contextsByKind(out, instrument.KindExpression)
	require.Len(t, exprs, 1)
	assert.Equal(t, 3, exprs[0].LineStart)

	var values []any
	for _, g := range execute(t, out.Code) {
		values = append(values, g.value)
	}
	assert.Equal(t, []any{int64(3), int64(6)}, values)
}

func TestBuild_JSX(t *testing.T) {
	t.Parallel()

	b := NewBuilder(nil, Options{})
	out, err := b.Build(context.Background(), Project{Files: map[string]string{
		"main.jsx": "const el = <b>hi</b>;\n",
	}})
	require.NoError(t, err)
	assert.Contains(t, out.Code, `h("b"`)
}

func TestBuild_SyntaxError(t *testing.T) {
	t.Parallel()

	b := NewBuilder(nil, Options{})
	_, err := b.Build(context.Background(), Project{Files: map[string]string{
		"main.js": "let ok = 1;\nconst = ;\n",
	}})
	var be *Error
	require.True(t, errors.As(err, &be), "got %v", err)
	require.NotEmpty(t, be.Diagnostics)
	d := be.Diagnostics[0]
	assert.Equal(t, "main.js", d.File)
	assert.Equal(t, 2, d.Line)

	c := d.Context(99, instrument.KindBuildError)
	assert.Equal(t, 99, c.ID)
	assert.Equal(t, 2, c.LineStart)
	assert.Equal(t, "const = ;", c.SourceText)
}

func TestBuild_UnresolvedImport(t *testing.T) {
	t.Parallel()

	b := NewBuilder(nil, Options{})
	_, err := b.Build(context.Background(), Project{Files: map[string]string{
		"main.js": "import x from \"./missing\";\n",
	}})
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Error(), "missing")
}

func TestBuild_CachesInstrumentation(t *testing.T) {
	t.Parallel()

	counter := instrument.NewCounter(0)
	b := NewBuilder(counter, Options{})
	p := Project{Files: map[string]string{"main.js": "const a = 1;\nconst b = 2;\n"}}

	first, err := b.Build(context.Background(), p)
	require.NoError(t, err)
	last := counter.Last()
	second, err := b.Build(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, last, counter.Last(), "unchanged files are not re-instrumented")
	assert.Equal(t, first.Contexts, second.Contexts)

	b.Forget()
	third, err := b.Build(context.Background(), p)
	require.NoError(t, err)
	assert.Greater(t, third.Contexts[0].ID, last)
}

func TestBuild_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(nil, Options{}).Build(ctx, Project{Files: map[string]string{"main.js": "1"}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestProject_Entry(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		project Project
		want    string
		wantErr bool
	}{
		{name: "explicit", project: Project{Entry: "./app.ts", Files: map[string]string{"app.ts": "", "main.js": ""}}, want: "app.ts"},
		{name: "single file", project: Project{Files: map[string]string{"solo.js": ""}}, want: "solo.js"},
		{name: "main", project: Project{Files: map[string]string{"a.js": "", "main.js": ""}}, want: "main.js"},
		{name: "missing explicit", project: Project{Entry: "nope.js", Files: map[string]string{"main.js": ""}}, wantErr: true},
		{name: "ambiguous", project: Project{Files: map[string]string{"a.js": "", "b.js": ""}}, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.project.entry()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	files := map[string]string{"main.js": "", "lib/a.ts": "", "lib/b/index.js": ""}
	for _, tc := range []struct {
		importer, spec, want string
		ok                   bool
	}{
		{"", "main.js", "main.js", true},
		{"main.js", "./lib/a", "lib/a.ts", true},
		{"lib/a.ts", "./b", "lib/b/index.js", true},
		{"lib/b/index.js", "../../main", "main.js", true},
		{"main.js", "react", "", false},
		{"main.js", "./nope", "", false},
	} {
		got, ok := resolve(files, tc.importer, tc.spec)
		assert.Equal(t, tc.ok, ok, "%s from %s", tc.spec, tc.importer)
		assert.Equal(t, tc.want, got, "%s from %s", tc.spec, tc.importer)
	}
}
