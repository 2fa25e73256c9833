package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TempDirWithFiles creates a temporary directory containing an empty file
// per name provided, returning the directory and the created file paths.
func TempDirWithFiles(t *testing.T, files []string) (string, []string) {
	dirPath := t.TempDir()
	filePaths := make([]string, 0, len(files))
	for _, filename := range files {
		file, err := os.CreateTemp(dirPath, "*"+filename)
		assert.Nil(t, err, "failed to create temporary file in temporary dir")
		filePaths = append(filePaths, file.Name())
	}

	assert.Len(t, filePaths, len(files), "Expected file paths recorded to match length of requested files")
	return dirPath, filePaths
}

// TempDirWithContents creates a temporary directory with one file per map
// entry, each holding the given content. Returns the directory and a map of
// name to created path.
func TempDirWithContents(t *testing.T, files map[string]string) (string, map[string]string) {
	dirPath := t.TempDir()
	paths := make(map[string]string, len(files))
	for name, content := range files {
		path := filepath.Join(dirPath, name)
		assert.Nil(t, os.WriteFile(path, []byte(content), 0o644), "failed to write file %s", name)
		paths[name] = path
	}

	return dirPath, paths
}
