package command

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestLoadProject_Directory(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{
		"main.js":                 "import { a } from './lib/a';\n",
		"lib/a.ts":                "export const a: number = 1;\n",
		"README.md":               "# not code\n",
		"node_modules/x/index.js": "module.exports = 1;\n",
		".cache/y.js":             "1;\n",
	})
	p, err := loadProject([]string{dir}, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"main.js":  "import { a } from './lib/a';\n",
		"lib/a.ts": "export const a: number = 1;\n",
	}, p.Files)
	assert.Empty(t, p.Entry)

	p, err = loadProject([]string{dir}, "lib/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "lib/a.ts", p.Entry)
}

func TestLoadProject_Files(t *testing.T) {
	t.Parallel()

	dir := writeFiles(t, map[string]string{
		"app.js":    "require('./util/b.js');\n",
		"util/b.js": "1;\n",
	})
	p, err := loadProject([]string{filepath.Join(dir, "app.js"), filepath.Join(dir, "util", "b.js")}, "")
	require.NoError(t, err)
	assert.Equal(t, "app.js", p.Entry)
	assert.Equal(t, []string{"app.js", "util/b.js"}, slices.Sorted(maps.Keys(p.Files)))
}

func TestLoadProject_Errors(t *testing.T) {
	t.Parallel()

	_, err := loadProject(nil, "")
	assert.Error(t, err)

	dir := writeFiles(t, map[string]string{"notes.txt": "x"})
	_, err = loadProject([]string{dir}, "")
	assert.ErrorContains(t, err, "no source files")

	_, err = loadProject([]string{filepath.Join(dir, "missing.js")}, "")
	assert.Error(t, err)

	other := writeFiles(t, map[string]string{"b.js": "1;"})
	sub := writeFiles(t, map[string]string{"a/a.js": "1;"})
	_, err = loadProject([]string{filepath.Join(sub, "a", "a.js"), filepath.Join(other, "b.js")}, "")
	assert.ErrorContains(t, err, "outside")
}
