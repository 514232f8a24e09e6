package security

import (
	"os"
	"path/filepath"
)

// BlockedFiles lists build and orchestration descriptors that must never come
// from user-supplied content. The platform generates its own.
var BlockedFiles = []string{
	"Dockerfile",
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
	".dockerignore",
}

// RemoveBlockedFiles deletes every entry of BlockedFiles found directly inside
// dir and returns the removed paths. An empty or missing dir yields an empty
// slice.
func RemoveBlockedFiles(dir string) []string {
	removed := []string{}
	if dir == "" {
		return removed
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return removed
	}

	for _, name := range BlockedFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Lstat(path); err != nil {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			continue
		}
		removed = append(removed, path)
	}
	return removed
}
