package security

import (
	"fmt"
	"os"
)

const (
	// PermConfigFile is for configuration files containing webhook secrets.
	PermConfigFile os.FileMode = 0640

	// PermDBFile is for the deployment history database.
	PermDBFile os.FileMode = 0640

	// PermDirectory is for directories created by the service.
	PermDirectory os.FileMode = 0750

	// PermCredentials is for files holding tokens or passwords
	// (.git-credentials, .db-credentials): owner read/write only.
	PermCredentials os.FileMode = 0600

	// PermPublicFile is for generated files the runtime must read
	// (docker-compose.yml, .env, nginx config).
	PermPublicFile os.FileMode = 0644
)

// WriteSecureFile writes data to path and forces perm regardless of umask
// or the mode of a pre-existing file.
func WriteSecureFile(path string, data []byte, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create secure file: %w", err)
	}

	if err := file.Chmod(perm); err != nil {
		file.Close()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write secure file: %w", err)
	}

	return file.Close()
}

// EnsureSecurePermissions checks if a file has the expected permissions.
// Returns an error if permissions are too permissive.
func EnsureSecurePermissions(path string, expectedPerm os.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	actualPerm := info.Mode().Perm()
	if actualPerm&^expectedPerm != 0 {
		return fmt.Errorf("file %s has too permissive permissions: %04o (expected: %04o)",
			path, actualPerm, expectedPerm)
	}

	return nil
}
