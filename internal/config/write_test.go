package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetKeyInFile(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name, before, after string
	}{
		{"missing file", "", "theme dark\n"},
		{"append", "verbose true\n", "verbose true\ntheme dark\n"},
		{"append without trailing newline", "verbose true", "verbose true\ntheme dark\n"},
		{"replace", "# colours\ntheme light\nverbose true\n", "# colours\ntheme dark\nverbose true\n"},
		{"before first section", "verbose true\n[run]\ntheme x\n", "verbose true\ntheme dark\n[run]\ntheme x\n"},
		{"section values untouched", "[serve]\ntheme light\n", "theme dark\n[serve]\ntheme light\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "nested", "config")
			if tc.before != "" {
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
				require.NoError(t, os.WriteFile(path, []byte(tc.before), 0600))
			}
			require.NoError(t, SetKeyInFile(path, "theme", "dark"))
			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tc.after, string(got))

			cfg, err := LoadFromPath(path)
			require.NoError(t, err)
			assert.Equal(t, "dark", cfg.Global["theme"])
		})
	}
}

func TestAtomicWriteFile_LeavesNoTemp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	require.NoError(t, atomicWriteFile(path, []byte("x 1\n"), 0600))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config", entries[0].Name())
}
