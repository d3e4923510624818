// Package fsutil provides file system utility functions.
package fsutil

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// FindFiles recursively searches root for regular files whose base name
// satisfies match. It returns their full paths sorted lexically.
func FindFiles(root string, match func(name string) bool) ([]string, error) {
	if match == nil {
		panic("match must not be nil")
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && match(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// FindFilesByPattern returns the files under root whose base name matches
// any of the filepath.Match patterns. Each file is listed once.
func FindFilesByPattern(root string, patterns ...string) ([]string, error) {
	return FindFiles(root, func(name string) bool {
		for _, pattern := range patterns {
			if ok, _ := filepath.Match(pattern, name); ok {
				return true
			}
		}
		return false
	})
}

// FindFilesContaining returns the files under root whose base name contains
// substr.
func FindFilesContaining(root, substr string) ([]string, error) {
	if substr == "" {
		panic("substr must not be empty")
	}
	return FindFiles(root, func(name string) bool {
		return strings.Contains(name, substr)
	})
}
