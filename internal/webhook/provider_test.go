package webhook

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-GitHub-Event", "push")
	h["X-Custom"] = []string{"first", "second"}
	h["X-Empty"] = nil

	got := NormalizeHeaders(h)
	assert.Equal(t, "push", got["x-github-event"])
	assert.Equal(t, "first", got["x-custom"])
	_, ok := got["x-empty"]
	assert.False(t, ok)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		headers Headers
		want    Provider
		ok      bool
	}{
		{"github", Headers{"x-github-event": "push"}, GitHub, true},
		{"gitlab", Headers{"x-gitlab-event": "Push Hook"}, GitLab, true},
		{"bitbucket", Headers{"x-event-key": "repo:push"}, Bitbucket, true},
		{"github wins over others", Headers{"x-github-event": "ping", "x-event-key": "repo:push"}, GitHub, true},
		{"unknown", Headers{"user-agent": "curl"}, nil, false},
		{"empty marker", Headers{"x-github-event": ""}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Detect(tt.headers)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsPush(t *testing.T) {
	assert.True(t, GitHub.IsPush(Headers{"x-github-event": "push"}))
	assert.False(t, GitHub.IsPush(Headers{"x-github-event": "ping"}))
	assert.True(t, GitLab.IsPush(Headers{"x-gitlab-event": "Push Hook"}))
	assert.False(t, GitLab.IsPush(Headers{"x-gitlab-event": "Tag Push Hook"}))
	assert.True(t, Bitbucket.IsPush(Headers{"x-event-key": "repo:push"}))
	assert.False(t, Bitbucket.IsPush(Headers{"x-event-key": "pullrequest:created"}))
}

func TestProviderVerify(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	secret := []byte("provider-secret-0123456789abcdef")
	sig := Sign(payload, secret)

	assert.True(t, GitHub.Verify(payload, Headers{"x-hub-signature-256": sig}, secret))
	assert.False(t, GitHub.Verify(payload, Headers{"x-hub-signature": sig}, secret), "github reads the sha256 header only")

	assert.True(t, Bitbucket.Verify(payload, Headers{"x-hub-signature": sig}, secret))
	assert.False(t, Bitbucket.Verify(payload, Headers{"x-hub-signature-256": sig}, secret))

	assert.True(t, GitLab.Verify(payload, Headers{"x-gitlab-token": string(secret)}, secret))
	assert.False(t, GitLab.Verify(payload, Headers{"x-gitlab-token": sig}, secret))
}

func TestParsePushGitHub(t *testing.T) {
	payload := []byte(`{
		"ref": "refs/heads/main",
		"after": "0123456789abcdef0123456789abcdef01234567",
		"head_commit": {"id": "0123456789abcdef0123456789abcdef01234567", "message": "Fix header"}
	}`)

	event, err := GitHub.ParsePush(payload)
	require.NoError(t, err)
	assert.Equal(t, "main", event.Branch)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", event.Commit.Hash)
	assert.Equal(t, "Fix header", event.Commit.Message)
	assert.Equal(t, "0123456", event.Commit.Short())
}

func TestParsePushGitHubTagRef(t *testing.T) {
	event, err := GitHub.ParsePush([]byte(`{"ref":"refs/tags/v1.0.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "refs/tags/v1.0.0", event.Branch)
}

func TestParsePushGitLab(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantBranch string
		wantHash   string
		wantMsg    string
	}{
		{
			"after and commits",
			`{"ref":"refs/heads/develop","after":"aaaaaaa111","commits":[{"message":"first"},{"message":"second"}]}`,
			"develop", "aaaaaaa111", "first",
		},
		{
			"checkout_sha fallback",
			`{"ref":"refs/heads/main","checkout_sha":"bbbbbbb222"}`,
			"main", "bbbbbbb222", "",
		},
		{
			"no ref",
			`{"after":"ccc"}`,
			"", "ccc", "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := GitLab.ParsePush([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantBranch, event.Branch)
			assert.Equal(t, tt.wantHash, event.Commit.Hash)
			assert.Equal(t, tt.wantMsg, event.Commit.Message)
		})
	}
}

func TestParsePushBitbucket(t *testing.T) {
	payload := []byte(`{"push":{"changes":[{"new":{"name":"main","type":"branch","target":{"hash":"ddddddd333444","message":"Deploy"}}}]}}`)

	event, err := Bitbucket.ParsePush(payload)
	require.NoError(t, err)
	assert.Equal(t, "main", event.Branch)
	assert.Equal(t, "ddddddd333444", event.Commit.Hash)
	assert.Equal(t, "Deploy", event.Commit.Message)
	assert.Equal(t, "ddddddd", event.Commit.Short())
}

func TestParsePushBitbucketNoBranch(t *testing.T) {
	for _, payload := range []string{
		`{}`,
		`{"push":{"changes":[]}}`,
		`{"push":{"changes":[{"new":null,"old":{"name":"gone"}}]}}`,
	} {
		event, err := Bitbucket.ParsePush([]byte(payload))
		require.NoError(t, err, payload)
		assert.Empty(t, event.Branch, payload)
	}
}

func TestParsePushInvalidJSON(t *testing.T) {
	for _, p := range []Provider{GitHub, GitLab, Bitbucket} {
		t.Run(p.Name(), func(t *testing.T) {
			_, err := p.ParsePush([]byte(`{not json`))
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestCommitShort(t *testing.T) {
	assert.Equal(t, "", Commit{}.Short())
	assert.Equal(t, "abc", Commit{Hash: "abc"}.Short())
	assert.Equal(t, "abcdefg", Commit{Hash: "abcdefg"}.Short())
}
