package gitsync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
)

// RepositoryLink describes the repository a project is connected to.
type RepositoryLink struct {
	LocalPath       string      `json:"local_path"`
	RemoteURL       string      `json:"remote_url"`
	Branch          string      `json:"branch"`
	LastCommit      *CommitInfo `json:"last_commit,omitempty"`
	HasLocalChanges bool        `json:"has_local_changes"`
}

// CommitInfo summarizes a commit for display.
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// ShortHash returns the abbreviated commit hash.
func (c CommitInfo) ShortHash() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

// Status inspects the repository at path. It returns nil without error when
// path is not a repository. Untracked files do not count as local changes.
func Status(path string) (*RepositoryLink, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	link := &RepositoryLink{LocalPath: path}

	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			link.RemoteURL = SanitizeURL(urls[0])
		}
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		link.Branch = head.Name().Short()
	} else {
		link.Branch = "HEAD"
	}

	if commit, err := repo.CommitObject(head.Hash()); err == nil {
		message, _, _ := strings.Cut(strings.TrimSpace(commit.Message), "\n")
		link.LastCommit = &CommitInfo{
			Hash:    commit.Hash.String(),
			Message: message,
			Author:  commit.Author.Name,
			Date:    commit.Author.When,
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}
	for _, s := range status {
		if s.Worktree == git.Untracked && s.Staging == git.Untracked {
			continue
		}
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			link.HasLocalChanges = true
			break
		}
	}

	return link, nil
}
