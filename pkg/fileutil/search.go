package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by SearchPaths when no candidate is a regular file.
var ErrNotFound = errors.New("file not found")

// SearchPaths returns the first candidate that is a regular file. Directories
// with a matching name are skipped.
func SearchPaths(paths []string) (string, error) {
	for _, path := range paths {
		if FileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in any of: %s", ErrNotFound, strings.Join(paths, ", "))
}

// DefaultConfigPaths lists where dployr looks for filename, most specific
// first: the working directory, ./config, the invoking user's config
// directory and finally /etc/dployr.
func DefaultConfigPaths(filename string) []string {
	paths := []string{
		filepath.Join(".", filename),
		filepath.Join(".", "config", filename),
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "dployr", filename))
	}
	return append(paths, filepath.Join("/etc/dployr", filename))
}

// FileExists reports whether path is an existing non-directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DirExists reports whether path is an existing directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// PathExists reports whether anything occupies path. Dangling symlinks count.
func PathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
