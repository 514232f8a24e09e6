package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
)

// ErrInvalidPayload is returned when a push body is not valid JSON for the
// provider's schema.
var ErrInvalidPayload = errors.New("invalid JSON payload")

const branchRefPrefix = "refs/heads/"

// PushEvent is the provider-neutral subset of a push delivery.
type PushEvent struct {
	Branch string
	Commit Commit
}

// Commit identifies the pushed head commit. Both fields may be empty.
type Commit struct {
	Hash    string
	Message string
}

// Short returns the first seven characters of the hash, or "" when unknown.
func (c Commit) Short() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

// branchFromRef strips the heads prefix; other refs are returned verbatim so
// that they never match a configured branch name.
func branchFromRef(ref string) string {
	return strings.TrimPrefix(ref, branchRefPrefix)
}

func parseGitHubPush(payload []byte) (*PushEvent, error) {
	parsed, err := github.ParseWebHook("push", payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	event, ok := parsed.(*github.PushEvent)
	if !ok {
		return nil, ErrInvalidPayload
	}

	return &PushEvent{
		Branch: branchFromRef(event.GetRef()),
		Commit: Commit{
			Hash:    event.GetAfter(),
			Message: event.GetHeadCommit().GetMessage(),
		},
	}, nil
}

type gitlabPush struct {
	Ref         string `json:"ref"`
	After       string `json:"after"`
	CheckoutSHA string `json:"checkout_sha"`
	Commits     []struct {
		Message string `json:"message"`
	} `json:"commits"`
}

func parseGitLabPush(payload []byte) (*PushEvent, error) {
	var p gitlabPush
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	event := &PushEvent{
		Branch: branchFromRef(p.Ref),
		Commit: Commit{Hash: p.After},
	}
	if event.Commit.Hash == "" {
		event.Commit.Hash = p.CheckoutSHA
	}
	if len(p.Commits) > 0 {
		event.Commit.Message = p.Commits[0].Message
	}
	return event, nil
}

type bitbucketPush struct {
	Push struct {
		Changes []struct {
			New *struct {
				Name   string `json:"name"`
				Target struct {
					Hash    string `json:"hash"`
					Message string `json:"message"`
				} `json:"target"`
			} `json:"new"`
		} `json:"changes"`
	} `json:"push"`
}

func parseBitbucketPush(payload []byte) (*PushEvent, error) {
	var p bitbucketPush
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	event := &PushEvent{}
	if len(p.Push.Changes) == 0 || p.Push.Changes[0].New == nil {
		return event, nil
	}
	change := p.Push.Changes[0].New
	event.Branch = change.Name
	event.Commit = Commit{Hash: change.Target.Hash, Message: change.Target.Message}
	return event, nil
}
