package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFilterGitignoreAndGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "*.log\nnode_modules/\n")

	f, err := NewFilter(root, []string{"build/**", "**/*.tmp"})
	require.NoError(t, err)

	assert.True(t, f.Ignored(filepath.Join(root, "debug.log"), false))
	assert.True(t, f.Ignored(filepath.Join(root, "node_modules"), true))
	assert.True(t, f.Ignored(filepath.Join(root, "build", "out.o"), false))
	assert.True(t, f.Ignored(filepath.Join(root, "src", "a.tmp"), false))
	assert.True(t, f.Ignored(filepath.Join(root, ".git", "index"), false))
	assert.True(t, f.Ignored(filepath.Join(root, ".git"), true))

	assert.False(t, f.Ignored(filepath.Join(root, "main.go"), false))
	assert.False(t, f.Ignored(filepath.Join(root, "src", "lib.py"), false))
	assert.False(t, f.Ignored(root, true))
}

func TestFilterWithoutGitignore(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, nil)
	require.NoError(t, err)
	assert.False(t, f.Ignored(filepath.Join(root, "a.log"), false))
}

func TestFilterInvalidGlob(t *testing.T) {
	_, err := NewFilter(t.TempDir(), []string{"src/[a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "src/[a")
}

// Feature: tuick, Property 7: files under an ignored directory glob are never reported
func TestFilterDirectoryGlob(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, []string{"out/**"})
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		segs := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), 1, 4).Draw(t, "segments")
		path := filepath.Join(append([]string{root, "out"}, segs...)...)
		if !f.Ignored(path, false) {
			t.Fatalf("%s not ignored", path)
		}
		src := filepath.Join(append([]string{root, "src"}, segs...)...)
		if f.Ignored(src, false) {
			t.Fatalf("%s ignored", src)
		}
	})
}
