package ingest

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collectFiles(t *testing.T, root string, recursive bool) []string {
	var found []string
	err := iterateFiles(root, recursive, func(path string, _ fs.FileInfo) error {
		rel, err := filepath.Rel(root, path)
		assert.Nil(t, err)
		found = append(found, rel)
		return nil
	})
	assert.Nil(t, err)

	sort.Strings(found)
	return found
}

func writeTree(t *testing.T, root string, files map[string]string) {
	for name, content := range files {
		path := filepath.Join(root, name)
		assert.Nil(t, os.MkdirAll(filepath.Dir(path), 0o755))
		assert.Nil(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestIterateFiles_ShallowSkipsSubdirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"top.mp4":           "x",
		"nested/inner.mp4":  "x",
		".hidden.mp4":       "x",
		"in-progress.part":  "x",
		"still-copying.tmp": "x",
	})

	assert.Equal(t, []string{"top.mp4"}, collectFiles(t, root, false))
}

func TestIterateFiles_RecursiveDescends(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"top.mp4":               "x",
		"nested/inner.mp4":      "x",
		"nested/deep/leaf.mkv":  "x",
		".hiddendir/hidden.mp4": "x",
		"nested/.skipme.mp4":    "x",
	})

	assert.Equal(t, []string{
		filepath.Join("nested", "deep", "leaf.mkv"),
		filepath.Join("nested", "inner.mp4"),
		"top.mp4",
	}, collectFiles(t, root, true))
}

func TestIterateFiles_MissingRoot(t *testing.T) {
	t.Parallel()
	err := iterateFiles(filepath.Join(t.TempDir(), "nope"), false, func(string, fs.FileInfo) error { return nil })
	assert.Error(t, err)
}
