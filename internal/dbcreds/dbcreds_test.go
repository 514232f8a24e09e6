package dbcreds

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s := NewStore(root)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	return s, root
}

func TestAppendWritesBlock(t *testing.T) {
	s, root := testStore(t)

	require.NoError(t, s.Append("alice", Credential{
		Name:     "app",
		Type:     PostgreSQL,
		Host:     "postgres",
		Username: "alice_app",
		Password: "s3cret",
	}))

	path := filepath.Join(root, "alice", FileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	want := "\n# Database: app (created: 2024-05-01T09:30:00Z, type: postgresql)\n" +
		"DB_TYPE=postgresql\n" +
		"DB_HOST=postgres\n" +
		"DB_PORT=5432\n" +
		"DB_DATABASE=app\n" +
		"DB_USERNAME=alice_app\n" +
		"DB_PASSWORD=s3cret\n"
	assert.Equal(t, want, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAppendTightensExistingMode(t *testing.T) {
	s, root := testStore(t)
	path := filepath.Join(root, "alice", FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	require.NoError(t, s.Append("alice", Credential{Name: "app", Host: "mariadb", Username: "u", Password: "p"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAppendRejects(t *testing.T) {
	s, _ := testStore(t)

	assert.Error(t, s.Append("alice", Credential{Name: "App-1"}))
	assert.Error(t, s.Append("../etc", Credential{Name: "app"}))
	assert.Error(t, s.Append("alice", Credential{Name: "app", Password: "a\nDB_HOST=evil"}))

	require.NoError(t, s.Append("alice", Credential{Name: "app"}))
	assert.ErrorIs(t, s.Append("alice", Credential{Name: "app"}), ErrExists)
}

func TestListRoundTrip(t *testing.T) {
	s, _ := testStore(t)

	require.NoError(t, s.Append("alice", Credential{Name: "app", Host: "mariadb", Username: "alice_app", Password: "one"}))
	require.NoError(t, s.Append("alice", Credential{Name: "app2", Type: PostgreSQL, Host: "postgres", Username: "alice_app2", Password: "two"}))

	creds, err := s.List("alice")
	require.NoError(t, err)
	require.Len(t, creds, 2)

	assert.Equal(t, "app", creds[0].Name)
	assert.Equal(t, MariaDB, creds[0].Type)
	assert.Equal(t, 3306, creds[0].Port)
	assert.Equal(t, "one", creds[0].Password)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), creds[0].CreatedAt)

	assert.Equal(t, "app2", creds[1].Name)
	assert.Equal(t, PostgreSQL, creds[1].Type)
	assert.Equal(t, 5432, creds[1].Port)
	assert.Equal(t, "alice_app2", creds[1].Username)
}

func TestListMissingFile(t *testing.T) {
	s, _ := testStore(t)

	creds, err := s.List("bob")
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestListLegacyEntryWithoutType(t *testing.T) {
	s, root := testStore(t)
	path := filepath.Join(root, "alice", FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	legacy := "\n# Database: old (created: 2023-01-01T00:00:00Z)\nDB_HOST=mariadb\nDB_PORT=3306\nDB_DATABASE=old\nDB_USERNAME=u\nDB_PASSWORD=p\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	creds, err := s.List("alice")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, MariaDB, creds[0].Type)
	assert.Equal(t, "old", creds[0].Database)
}

func TestRemoveExactMatch(t *testing.T) {
	s, root := testStore(t)

	for _, name := range []string{"app", "app2", "myapp"} {
		require.NoError(t, s.Append("alice", Credential{Name: name, Host: "mariadb", Username: "u_" + name, Password: "p"}))
	}

	require.NoError(t, s.Remove("alice", "app"))

	creds, err := s.List("alice")
	require.NoError(t, err)
	var names []string
	for _, c := range creds {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"app2", "myapp"}, names)

	data, err := os.ReadFile(filepath.Join(root, "alice", FileName))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "u_app\n")
	assert.Equal(t, 2, strings.Count(string(data), headerPrefix))

	info, err := os.Stat(filepath.Join(root, "alice", FileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRemoveLastBlock(t *testing.T) {
	s, _ := testStore(t)

	require.NoError(t, s.Append("alice", Credential{Name: "first"}))
	require.NoError(t, s.Append("alice", Credential{Name: "second"}))
	require.NoError(t, s.Remove("alice", "second"))

	creds, err := s.List("alice")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "first", creds[0].Name)
}

func TestRemoveNotFound(t *testing.T) {
	s, _ := testStore(t)

	assert.ErrorIs(t, s.Remove("alice", "app"), ErrNotFound)

	require.NoError(t, s.Append("alice", Credential{Name: "app2"}))
	assert.ErrorIs(t, s.Remove("alice", "app"), ErrNotFound)
}

func TestParseType(t *testing.T) {
	assert.Equal(t, PostgreSQL, ParseType("postgres"))
	assert.Equal(t, PostgreSQL, ParseType("PostgreSQL"))
	assert.Equal(t, MariaDB, ParseType("mysql"))
	assert.Equal(t, MariaDB, ParseType(""))
}
