package command

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/liveeval/internal/config"
)

const loopSource = "const x = 1 + 1;\nfunction foo(n) {}\nfor (let i = 0; i < 3; i++) { foo(i); }\n"

func dispatch(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	r := NewRegistry("liveeval")
	RegisterBuiltins(r, config.NewConfig(), "", "test", nil)
	var stdout, stderr bytes.Buffer
	err := r.Dispatch(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRunCommand_Listing(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"main.js": loopSource})
	stdout, stderr, err := dispatch(t, "run", "--no-color", "--settle", "0", filepath.Join(dir, "main.js"))
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "main.js\n")
	assert.Contains(t, stdout, "1 │ const x = 1 + 1;")
	assert.Contains(t, stdout, "x = 2")
	assert.Contains(t, stdout, "i = 2")
	assert.NotContains(t, stdout, "i = 0", "only the latest value per site by default")
	assert.Contains(t, stderr, "run 1 ok")
}

func TestRunCommand_All(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"main.js": loopSource})
	stdout, stderr, err := dispatch(t, "run", "--no-color", "--all", "--settle", "0", dir)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "i = 0, 1, 2")
}

func TestRunCommand_Filter(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"main.js": loopSource})
	stdout, stderr, err := dispatch(t, "run", "--no-color", "--settle", "0", "--filter", `kind == "variable"`, dir)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "x = 2")
	assert.NotContains(t, stdout, "i = ")

	_, _, err = dispatch(t, "run", "--filter", "kind ==", dir)
	assert.Error(t, err)
}

func TestRunCommand_JSON(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"main.js": loopSource})
	stdout, stderr, err := dispatch(t, "run", "--json", "--settle", "0", dir)
	require.NoError(t, err, stderr)

	var displays []string
	dec := json.NewDecoder(bytes.NewBufferString(stdout))
	for dec.More() {
		var line payloadLine
		require.NoError(t, dec.Decode(&line))
		require.NotNil(t, line.Site)
		displays = append(displays, line.Display)
	}
	assert.Contains(t, displays, "x = 2")
	assert.Contains(t, displays, "i = 2")
}

func TestRunCommand_BuildError(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"main.js": "let ok = 1;\nconst = ;\n"})
	stdout, stderr, err := dispatch(t, "run", "--no-color", dir)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, stdout, "✖")
	assert.Contains(t, stderr, "build failed")
}

func TestRunCommand_RuntimeError(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{"main.js": "let a = 1;\nnull.x;\n"})
	stdout, stderr, err := dispatch(t, "run", "--no-color", "--settle", "0", dir)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, stdout, "a = 1")
	assert.Contains(t, stdout, "✖")
	assert.Contains(t, stderr, "1 runtime error")
}

func TestRunCommand_NoInput(t *testing.T) {
	t.Parallel()

	_, stderr, err := dispatch(t, "run")
	assert.ErrorIs(t, err, ErrUsage)
	assert.Contains(t, stderr, "at least one file")
	assert.Contains(t, stderr, "Usage: run [options] <file|dir>...")
}
