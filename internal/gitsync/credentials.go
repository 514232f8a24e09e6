package gitsync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dployr/internal/security"

	"github.com/go-git/go-git/v5"
)

// credentialHelper points git at the per-project store, resolved relative
// to the working tree git runs in.
const credentialHelper = "store --file=" + CredentialsFile

// configureRepository rewrites origin to the token-free remote and, when a
// token is given, stores it for later pulls.
func configureRepository(dir, remote, token string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return err
	}

	cfg, err := repo.Config()
	if err != nil {
		return err
	}

	origin, ok := cfg.Remotes["origin"]
	if !ok {
		return fmt.Errorf("clone has no origin remote")
	}
	origin.URLs = []string{remote}

	if token != "" {
		cfg.Raw.Section("credential").SetOption("helper", credentialHelper)
	}

	if err := repo.SetConfig(cfg); err != nil {
		return err
	}

	if token == "" {
		return nil
	}
	return saveCredentials(dir, remote, token)
}

func saveCredentials(dir, remote, token string) error {
	line, err := credentialLine(remote, token)
	if err != nil {
		return err
	}
	if err := security.WriteSecureFile(filepath.Join(dir, CredentialsFile), []byte(line), security.PermCredentials); err != nil {
		return err
	}
	return excludeFromWorktree(dir, CredentialsFile)
}

// excludeFromWorktree adds name to .git/info/exclude so the credential
// store never shows up as an untracked change or gets committed.
func excludeFromWorktree(dir, name string) error {
	infoDir := filepath.Join(dir, ".git", "info")
	if err := os.MkdirAll(infoDir, 0o755); err != nil {
		return err
	}

	excludePath := filepath.Join(infoDir, "exclude")
	existing, err := os.ReadFile(excludePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	pattern := "/" + name
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}

	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += pattern + "\n"
	return os.WriteFile(excludePath, []byte(content), 0o644)
}
