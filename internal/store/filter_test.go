package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/liveeval/internal/instrument"
	"github.com/joeycumines/liveeval/internal/marshal"
	"github.com/joeycumines/liveeval/internal/protocol"
)

func TestCompileFilter(t *testing.T) {
	t.Parallel()

	variable := instrument.CaptureContext{ID: 1, Kind: instrument.KindVariable, File: "main.js", LineStart: 3, Name: "total"}
	num := protocol.Payload{ID: 10, ContextID: 1, Result: marshal.Number(42)}
	str := protocol.Payload{ID: 11, ContextID: 1, Result: marshal.String("hi")}
	failed := protocol.Payload{ID: 12, ContextID: 1, IsError: true, Result: marshal.Undefined()}

	for _, tc := range []struct {
		filter string
		p      protocol.Payload
		want   bool
	}{
		{"", num, true},
		{`kind == "variable"`, num, true},
		{`kind == "return"`, num, false},
		{`name == "total" && line == 3 && file == "main.js"`, num, true},
		{`valueKind == "number" && value > 40`, num, true},
		{`valueKind == "string" && value == "hi"`, str, true},
		{`isError`, failed, true},
		{`!isError`, failed, false},
		{`id >= 11`, num, false},
		// Comparing a string value numerically fails at run time.
		{`value > 1`, str, false},
	} {
		pred, err := CompileFilter(tc.filter)
		require.NoError(t, err, tc.filter)
		assert.Equal(t, tc.want, pred(tc.p, variable), tc.filter)
	}
}

func TestCompileFilter_Invalid(t *testing.T) {
	t.Parallel()

	for _, src := range []string{`kind ==`, `nope == 1`, `line + 1`} {
		_, err := CompileFilter(src)
		assert.Error(t, err, src)
	}
}
