package webhook

import (
	"net/http"
	"strings"
)

// Headers holds request headers keyed by lowercase name.
type Headers map[string]string

// NormalizeHeaders flattens h into lowercase keys, keeping the first value.
func NormalizeHeaders(h http.Header) Headers {
	out := make(Headers, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(key)
		if _, exists := out[lower]; !exists {
			out[lower] = values[0]
		}
	}
	return out
}

// Provider is one supported git hosting service. The set is closed: the only
// implementations are GitHub, GitLab and Bitbucket.
type Provider interface {
	// Name is the lowercase provider tag used in logs and metrics.
	Name() string

	// Verify authenticates the raw payload against the registration secret.
	Verify(payload []byte, headers Headers, secret []byte) bool

	// IsPush reports whether the delivery is a push event.
	IsPush(headers Headers) bool

	// Event returns the provider's event identifier header value.
	Event(headers Headers) string

	// ParsePush decodes a push payload. A payload that is valid JSON but
	// carries no branch yields an event with an empty Branch.
	ParsePush(payload []byte) (*PushEvent, error)

	sealed()
}

var (
	GitHub    Provider = githubProvider{}
	GitLab    Provider = gitlabProvider{}
	Bitbucket Provider = bitbucketProvider{}
)

// Detect picks the provider by its marker header, checked in a fixed order.
func Detect(headers Headers) (Provider, bool) {
	switch {
	case headers["x-github-event"] != "":
		return GitHub, true
	case headers["x-gitlab-event"] != "":
		return GitLab, true
	case headers["x-event-key"] != "":
		return Bitbucket, true
	}
	return nil, false
}

type githubProvider struct{}

func (githubProvider) Name() string { return "github" }

func (githubProvider) Verify(payload []byte, headers Headers, secret []byte) bool {
	return VerifyHMAC(payload, headers["x-hub-signature-256"], secret)
}

func (githubProvider) IsPush(headers Headers) bool { return headers["x-github-event"] == "push" }

func (githubProvider) Event(headers Headers) string { return headers["x-github-event"] }

func (githubProvider) ParsePush(payload []byte) (*PushEvent, error) { return parseGitHubPush(payload) }

func (githubProvider) sealed() {}

type gitlabProvider struct{}

func (gitlabProvider) Name() string { return "gitlab" }

func (gitlabProvider) Verify(_ []byte, headers Headers, secret []byte) bool {
	return VerifyToken(headers["x-gitlab-token"], secret)
}

func (gitlabProvider) IsPush(headers Headers) bool { return headers["x-gitlab-event"] == "Push Hook" }

func (gitlabProvider) Event(headers Headers) string { return headers["x-gitlab-event"] }

func (gitlabProvider) ParsePush(payload []byte) (*PushEvent, error) { return parseGitLabPush(payload) }

func (gitlabProvider) sealed() {}

type bitbucketProvider struct{}

func (bitbucketProvider) Name() string { return "bitbucket" }

func (bitbucketProvider) Verify(payload []byte, headers Headers, secret []byte) bool {
	return VerifyHMAC(payload, headers["x-hub-signature"], secret)
}

func (bitbucketProvider) IsPush(headers Headers) bool { return headers["x-event-key"] == "repo:push" }

func (bitbucketProvider) Event(headers Headers) string { return headers["x-event-key"] }

func (bitbucketProvider) ParsePush(payload []byte) (*PushEvent, error) {
	return parseBitbucketPush(payload)
}

func (bitbucketProvider) sealed() {}
