package command

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/liveeval/internal/config"
	"github.com/joeycumines/liveeval/internal/instrument"
)

func TestInstrumentCommand(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"main.js": "const x = 1 + 1;\n"})
	path := filepath.Join(dir, "main.js")
	ctx := context.Background()

	t.Run("code", func(t *testing.T) {
		t.Parallel()
		cmd := NewInstrumentCommand(config.NewConfig())
		var stdout, stderr bytes.Buffer
		require.NoError(t, cmd.Execute(ctx, []string{path}, &stdout, &stderr))
		assert.Contains(t, stdout.String(), instrument.CaptureFunc+"(")
		assert.Equal(t, 1, strings.Count(stdout.String(), "\n"), "line structure is preserved")
	})

	t.Run("contexts", func(t *testing.T) {
		t.Parallel()
		cmd := NewInstrumentCommand(config.NewConfig())
		cmd.contexts = true
		var stdout, stderr bytes.Buffer
		require.NoError(t, cmd.Execute(ctx, []string{path}, &stdout, &stderr))
		assert.Contains(t, stdout.String(), "KIND")
		assert.Regexp(t, `\d+\s+Variable\s+1:\d+\s+x\s+1 \+ 1`, stdout.String())
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		cmd := NewInstrumentCommand(config.NewConfig())
		cmd.contexts = true
		cmd.jsonOut = true
		var stdout, stderr bytes.Buffer
		require.NoError(t, cmd.Execute(ctx, []string{path}, &stdout, &stderr))
		var found *instrument.CaptureContext
		dec := json.NewDecoder(&stdout)
		for dec.More() {
			var c instrument.CaptureContext
			require.NoError(t, dec.Decode(&c))
			if c.Kind == instrument.KindVariable {
				found = &c
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, "main.js", found.File)
		assert.Equal(t, "x", found.Name)
	})
}

func TestInstrumentCommand_Errors(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"bad.js": "const = ;\n"})
	cmd := NewInstrumentCommand(config.NewConfig())
	var stdout, stderr bytes.Buffer

	err := cmd.Execute(context.Background(), []string{filepath.Join(dir, "bad.js")}, &stdout, &stderr)
	var pe *instrument.ParseError
	assert.ErrorAs(t, err, &pe)
	assert.NotEmpty(t, stderr.String())

	assert.Error(t, cmd.Execute(context.Background(), nil, &stdout, &stderr))
	assert.Error(t, cmd.Execute(context.Background(), []string{filepath.Join(dir, "missing.js")}, &stdout, &stderr))
}
