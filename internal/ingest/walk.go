package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// iterateFiles enumerates the regular files under root, invoking fn for
// each. When recursive is false only the top level of root is considered.
// Hidden files and in-progress download artifacts are excluded; directory
// entries beginning with '.' are not descended in to.
func iterateFiles(root string, recursive bool, fn func(path string, info fs.FileInfo) error) error {
	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return fmt.Errorf("failed to read directory %s: %w", root, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || isExcludedName(entry.Name()) {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				return err
			}

			if !info.Mode().IsRegular() {
				continue
			}

			if err := fn(filepath.Join(root, entry.Name()), info); err != nil {
				return err
			}
		}

		return nil
	}

	err := filepath.WalkDir(root, func(path string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if dir.IsDir() {
			if path != root && isExcludedName(path) {
				return filepath.SkipDir
			}

			return nil
		}

		if isExcludedName(path) {
			return nil
		}

		info, err := dir.Info()
		if err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		return fn(path, info)
	})
	if err != nil {
		return fmt.Errorf("failed to walk file system: %w", err)
	}

	return nil
}
