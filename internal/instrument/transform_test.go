package instrument

import (
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instrument(t *testing.T, src string) *Result {
	t.Helper()
	res, err := Instrument(src, "index.js", NewCounter(0), nil)
	require.NoError(t, err)
	return res
}

type capture struct {
	id    int
	value any
}

// execute runs code with a recording capture function installed.
func execute(t *testing.T, code string) ([]capture, error) {
	t.Helper()
	vm := goja.New()
	var got []capture
	require.NoError(t, vm.Set(CaptureFunc, func(call goja.FunctionCall) goja.Value {
		v := call.Argument(1)
		got = append(got, capture{id: int(call.Argument(0).ToInteger()), value: v.Export()})
		return v
	}))
	_, err := vm.RunString(code)
	return got, err
}

func TestInstrument_VariableDeclaration(t *testing.T) {
	t.Parallel()

	res := instrument(t, "const x = 1 + 1;")
	assert.Equal(t, "const x = __live_capture(1, 1 + 1);", res.Code)
	require.Len(t, res.Contexts, 1)

	ctx := res.Contexts[0]
	assert.Equal(t, 1, ctx.ID)
	assert.Equal(t, KindVariable, ctx.Kind)
	assert.Equal(t, "x", ctx.Name)
	assert.Equal(t, "1 + 1", ctx.SourceText)
	assert.Equal(t, "index.js", ctx.File)
	assert.Equal(t, 1, ctx.LineStart)
	assert.Equal(t, 1, ctx.LineEnd)
	assert.Equal(t, 11, ctx.ColStart)
	assert.Equal(t, 16, ctx.ColEnd)

	got, err := execute(t, res.Code)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].id)
	assert.EqualValues(t, 2, got[0].value)
}

func TestInstrument_ExpressionStatement(t *testing.T) {
	t.Parallel()

	res := instrument(t, "let a = 1, b = 2;\na + b;")
	assert.Equal(t, "let a = __live_capture(1, 1), b = __live_capture(2, 2);\n__live_capture(3, a + b);", res.Code)
	require.Len(t, res.Contexts, 3)
	assert.Equal(t, KindExpression, res.Contexts[2].Kind)
	assert.Equal(t, 2, res.Contexts[2].LineStart)
}

func TestInstrument_ParenthesizedOperand(t *testing.T) {
	t.Parallel()

	res := instrument(t, "(1 + 2) * 3;")
	assert.Equal(t, "__live_capture(1, (1 + 2) * 3);", res.Code)
	require.Len(t, res.Contexts, 1)
	assert.Equal(t, "(1 + 2) * 3", res.Contexts[0].SourceText)
}

func TestInstrument_AssignmentChain(t *testing.T) {
	t.Parallel()

	res := instrument(t, "let a, b;\na = b = 3;")
	assert.Equal(t, "let a, b;\n__live_capture(1, a = __live_capture(2, b = 3));", res.Code)
	require.Len(t, res.Contexts, 2)
	assert.Equal(t, "a", res.Contexts[0].Name)
	assert.Equal(t, "b", res.Contexts[1].Name)
	for _, ctx := range res.Contexts {
		assert.Equal(t, KindAssignment, ctx.Kind)
	}

	got, err := execute(t, res.Code)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].id, "inner assignment reports first")
	assert.Equal(t, 1, got[1].id)
}

func TestInstrument_Return(t *testing.T) {
	t.Parallel()

	res := instrument(t, "function f() { return 42; }\nf();")
	assert.Equal(t,
		"function f() { { const __live_r1 = 42; __live_capture(1, __live_r1); return __live_r1; } }\n__live_capture(2, f());",
		res.Code)
	require.Len(t, res.Contexts, 2)
	assert.Equal(t, KindReturn, res.Contexts[0].Kind)
	assert.Equal(t, "42", res.Contexts[0].SourceText)

	got, err := execute(t, res.Code)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 42, got[0].value)
	assert.EqualValues(t, 42, got[1].value)
}

func TestInstrument_ReturnInUnbracedIf(t *testing.T) {
	t.Parallel()

	res := instrument(t, "function f(c) { if (c) return 1; else return 2; }\nf(false);")
	got, err := execute(t, res.Code)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 2, got[0].value)
}

func TestInstrument_BareReturn(t *testing.T) {
	t.Parallel()

	res := instrument(t, "function f() { return; }")
	assert.Equal(t, "function f() { { const __live_r1 = undefined; __live_capture(1, __live_r1); return __live_r1; } }", res.Code)
}

func TestInstrument_ArrowExpressionBody(t *testing.T) {
	t.Parallel()

	res := instrument(t, "const sq = (n) => n * n;")
	require.Len(t, res.Contexts, 2)
	assert.Equal(t, KindReturn, res.Contexts[0].Kind)
	assert.Equal(t, "n * n", res.Contexts[0].SourceText)
	assert.Equal(t, KindVariable, res.Contexts[1].Kind)
	assert.Equal(t, "sq", res.Contexts[1].Name)
	assert.Equal(t, "(n) => n * n", res.Contexts[1].SourceText)
	assert.Equal(t, "const sq = (n) => __live_capture(1, n * n);__live_capture(2, sq);", res.Code)
}

func TestInstrument_ReturnSequence(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		src  string
		want any
	}{
		{"function f(a, b) { return a, b; }
f(1, 2);", int64(2)},
		{"function f() { return 1, 2; }
f();", int64(2)},
		{"function f() { return (3, 4) }
f();", int64(4)},
	} {
		res := instrument(t, tc.src)
		_, err := goja.Compile("index.js", res.Code, false)
		require.NoError(t, err, res.Code)

		got, err := execute(t, res.Code)
		require.NoError(t, err, res.Code)
		var returned []any
		for _, c := range got {
			if res.Contexts[c.id-1].Kind == KindReturn {
				returned = append(returned, c.value)
			}
		}
		assert.Equal(t, []any{tc.want}, returned, tc.src)
	}
}

func TestInstrument_PreservesFunctionNames(t *testing.T) {
	t.Parallel()

	src := strings.Join([]string{
		"const add = (a, b) => a + b;",
		"let Foo = class {};",
		"var bar = function () {}, n = 1;",
		"const named = function inner() {};",
		"[add.name, Foo.name, bar.name, named.name];",
	}, "\n")
	res := instrument(t, src)
	_, err := goja.Compile("index.js", res.Code, false)
	require.NoError(t, err, res.Code)

	vm := goja.New()
	captured := make(map[int]goja.Value)
	require.NoError(t, vm.Set(CaptureFunc, func(call goja.FunctionCall) goja.Value {
		captured[int(call.Argument(0).ToInteger())] = call.Argument(1)
		return call.Argument(1)
	}))
	v, err := vm.RunString(res.Code)
	require.NoError(t, err, res.Code)
	assert.Equal(t, []any{"add", "Foo", "bar", "inner"}, v.Export())

	names := make(map[string]string)
	for _, c := range res.Contexts {
		if c.Kind != KindVariable {
			continue
		}
		got, ok := captured[c.ID]
		require.True(t, ok, "context %d (%s) never reported", c.ID, c.Name)
		if fn, ok := got.(*goja.Object); ok {
			names[c.Name] = fn.Get("name").String()
		}
	}
	assert.Equal(t, map[string]string{"add": "add", "Foo": "Foo", "bar": "bar", "named": "inner"}, names)
}

func TestInstrument_ConsoleCall(t *testing.T) {
	t.Parallel()

	res := instrument(t, "console.log(a, 1);")
	assert.Equal(t, "console.log(...__live_capture(1, [a, 1]));", res.Code)
	require.Len(t, res.Contexts, 1)
	ctx := res.Contexts[0]
	assert.Equal(t, KindConsole, ctx.Kind)
	assert.Equal(t, "log", ctx.Method)
	assert.Equal(t, []string{"a", ""}, ctx.ArgNames)
}

func TestInstrument_ConsoleCallNoArgs(t *testing.T) {
	t.Parallel()

	res := instrument(t, "console.warn();")
	assert.Equal(t, "console.warn(...__live_capture(1, []));", res.Code)
}

func TestInstrument_LoopGuard(t *testing.T) {
	t.Parallel()

	res := instrument(t, "let x = 0;\nwhile (true) { x++; }")
	assert.Contains(t, res.Code, "{let __live_loop1 = 0;while (true) {if (++__live_loop1 > 6000) throw new RangeError(")
	assert.Equal(t, 2, strings.Count(res.Code, "\n")+1, "line count preserved")

	got, err := execute(t, res.Code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Potential infinite loop: exceeded 6000 iterations.")
	assert.Len(t, got, 6001)
}

func TestInstrument_LoopGuardUnbracedBody(t *testing.T) {
	t.Parallel()

	res, err := Instrument("let i = 0;\nwhile (i < 10) i++;", "index.js", NewCounter(0), &Options{LoopLimit: 5})
	require.NoError(t, err)

	_, err = execute(t, res.Code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 5 iterations")
}

func TestInstrument_LabelledLoop(t *testing.T) {
	t.Parallel()

	res := instrument(t, "outer: for (let i = 0; i < 3; i++) { for (let j = 0; j < 3; j++) { if (j) continue outer; } }")
	assert.True(t, strings.HasPrefix(res.Code, "{let __live_loop1 = 0;outer: for"), res.Code)
	_, err := execute(t, res.Code)
	require.NoError(t, err)
}

func TestInstrument_LoopVariables(t *testing.T) {
	t.Parallel()

	res := instrument(t, "let sum = 0;\nfor (const v of [1, 2]) { sum += v; }")
	var names []string
	for _, ctx := range res.Contexts {
		if ctx.Kind == KindLoopVariable {
			names = append(names, ctx.Name)
		}
	}
	assert.Equal(t, []string{"v"}, names)

	got, err := execute(t, res.Code)
	require.NoError(t, err)
	var values []any
	for _, c := range got {
		if c.id == res.Contexts[1].ID {
			values = append(values, c.value)
		}
	}
	assert.Equal(t, []any{int64(1), int64(2)}, values)
}

func TestInstrument_Destructuring(t *testing.T) {
	t.Parallel()

	res := instrument(t, "const obj = {a: 1, b: [2]};\nconst {a, b: [c]} = obj;")
	assert.True(t, strings.HasSuffix(res.Code, "const {a, b: [c]} = obj;__live_capture(2, c);__live_capture(3, a);"), res.Code)

	got, err := execute(t, res.Code)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.EqualValues(t, 2, got[1].value)
	assert.EqualValues(t, 1, got[2].value)
}

func TestInstrument_Idempotent(t *testing.T) {
	t.Parallel()

	src := strings.Join([]string{
		"const x = 1 + 1;",
		"let a, b;",
		"a = b = 3;",
		"function f(n) { return n * 2; }",
		"const g = (n) => n + 1;",
		"console.log(x, f(2));",
		"for (let i = 0; i < 2; i++) { g(i); }",
		"const {p, q} = {p: 1, q: 2};",
		"x + a;",
	}, "\n")
	first := instrument(t, src)
	second, err := Instrument(first.Code, "index.js", NewCounter(first.Contexts[len(first.Contexts)-1].ID), nil)
	require.NoError(t, err)
	assert.Equal(t, first.Code, second.Code)
	assert.Empty(t, second.Contexts)
}

func TestInstrument_IDsAreMonotonicAcrossCalls(t *testing.T) {
	t.Parallel()

	counter := NewCounter(0)
	a, err := Instrument("1;", "a.js", counter, nil)
	require.NoError(t, err)
	b, err := Instrument("2;", "b.js", counter, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Contexts[0].ID)
	assert.Equal(t, 2, b.Contexts[0].ID)
	assert.Equal(t, 2, counter.Last())
}

func TestInstrument_SkipsReservedAndDirectives(t *testing.T) {
	t.Parallel()

	res := instrument(t, "\"use strict\";\nconst __live_tmp = 1;")
	assert.Equal(t, "\"use strict\";\nconst __live_tmp = 1;", res.Code)
	assert.Empty(t, res.Contexts)
}

func TestInstrument_Remap(t *testing.T) {
	t.Parallel()

	res, err := Instrument("1;\n2;", "index.ts", NewCounter(0), &Options{
		Remap: func(line, col int) (int, int, bool) {
			if line == 1 {
				return 0, 0, false
			}
			return line + 10, col, true
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1;\n__live_capture(1, 2);", res.Code)
	require.Len(t, res.Contexts, 1)
	assert.Equal(t, 12, res.Contexts[0].LineStart)
}

func TestInstrument_ParseError(t *testing.T) {
	t.Parallel()

	_, err := Instrument("const = ;", "broken.js", NewCounter(0), nil)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "broken.js", perr.File)
	assert.Equal(t, 1, perr.Line)
	assert.NotEmpty(t, perr.Message)
}

func TestCaptureContext_Contains(t *testing.T) {
	t.Parallel()

	ctx := CaptureContext{LineStart: 2, LineEnd: 3, ColStart: 5, ColEnd: 4}
	assert.False(t, ctx.Contains(1, 10))
	assert.False(t, ctx.Contains(2, 4))
	assert.True(t, ctx.Contains(2, 5))
	assert.True(t, ctx.Contains(3, 3))
	assert.False(t, ctx.Contains(3, 4))
}
