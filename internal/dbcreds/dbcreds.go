// Package dbcreds manages the per-user .db-credentials file that hands
// database connection settings to user projects.
package dbcreds

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"dployr/internal/security"
)

// FileName is the credentials file inside a user's directory.
const FileName = ".db-credentials"

const headerPrefix = "# Database:"

var (
	// ErrExists is returned when appending a database name already on file.
	ErrExists = errors.New("database already has credentials on file")

	// ErrNotFound is returned when removing a name that is not on file.
	ErrNotFound = errors.New("database not found")

	namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	typePattern = regexp.MustCompile(`type:\s*(\w+)`)
)

// Type is a supported database engine.
type Type string

const (
	MariaDB    Type = "mariadb"
	PostgreSQL Type = "postgresql"
)

// ParseType accepts engine names and their common aliases. Unknown values
// fall back to MariaDB, which older entries without a type used.
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgresql", "postgres":
		return PostgreSQL
	default:
		return MariaDB
	}
}

// DefaultPort returns the engine's standard port.
func (t Type) DefaultPort() int {
	if t == PostgreSQL {
		return 5432
	}
	return 3306
}

// Credential is one database block.
type Credential struct {
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Database  string    `json:"database"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateName checks a database name: lowercase letters, digits and
// underscores only.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("database name may only contain lowercase letters, numbers and underscores")
	}
	return nil
}

// Store reads and writes credential files under a users root.
type Store struct {
	usersPath string
	mu        sync.Mutex
	now       func() time.Time
}

// NewStore returns a store rooted at usersPath.
func NewStore(usersPath string) *Store {
	return &Store{usersPath: usersPath, now: time.Now}
}

// Path returns the credentials file for user.
func (s *Store) Path(user string) (string, error) {
	if err := security.ValidateUsername(user); err != nil {
		return "", err
	}
	return filepath.Join(s.usersPath, user, FileName), nil
}

// List returns every credential block for user. A missing file is empty.
func (s *Store) List(user string) ([]Credential, error) {
	path, err := s.Path(user)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Credential{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return parse(string(data)), nil
}

// Append adds a block for cred. Empty Database and Port default to the name
// and the engine's port. The file is rewritten with mode 0600.
func (s *Store) Append(user string, cred Credential) error {
	if err := ValidateName(cred.Name); err != nil {
		return err
	}
	if cred.Type == "" {
		cred.Type = MariaDB
	}
	if cred.Port == 0 {
		cred.Port = cred.Type.DefaultPort()
	}
	if cred.Database == "" {
		cred.Database = cred.Name
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = s.now().UTC()
	}
	for _, v := range []string{cred.Host, cred.Username, cred.Password} {
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("credential values cannot contain newlines")
		}
	}

	path, err := s.Path(user)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	for _, c := range parse(string(existing)) {
		if c.Name == cred.Name {
			return fmt.Errorf("%s: %w", cred.Name, ErrExists)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), security.PermDirectory); err != nil {
		return fmt.Errorf("failed to create user directory: %w", err)
	}

	content := string(existing) + formatBlock(cred)
	if err := security.WriteSecureFile(path, []byte(content), security.PermCredentials); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// Remove deletes the block whose header names exactly name. Blocks for other
// databases, including ones sharing a prefix, are untouched.
func (s *Store) Remove(user, name string) error {
	path, err := s.Path(user)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	var kept []string
	skipping, found := false, false
	for _, line := range strings.Split(string(data), "\n") {
		if header, ok := headerName(line); ok {
			skipping = header == name
			if skipping {
				found = true
				continue
			}
		}
		if !skipping {
			kept = append(kept, line)
		}
	}
	if !found {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	if err := security.WriteSecureFile(path, []byte(strings.Join(kept, "\n")), security.PermCredentials); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

func formatBlock(c Credential) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s (created: %s, type: %s)\n", headerPrefix, c.Name, c.CreatedAt.Format(time.RFC3339), c.Type)
	fmt.Fprintf(&b, "DB_TYPE=%s\n", c.Type)
	fmt.Fprintf(&b, "DB_HOST=%s\n", c.Host)
	fmt.Fprintf(&b, "DB_PORT=%d\n", c.Port)
	fmt.Fprintf(&b, "DB_DATABASE=%s\n", c.Database)
	fmt.Fprintf(&b, "DB_USERNAME=%s\n", c.Username)
	fmt.Fprintf(&b, "DB_PASSWORD=%s\n", c.Password)
	return b.String()
}

// headerName extracts the database name from a block header line.
func headerName(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), headerPrefix)
	if !ok {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if i := strings.IndexAny(rest, " ("); i >= 0 {
		rest = rest[:i]
	}
	return rest, true
}

func parse(content string) []Credential {
	creds := []Credential{}
	var current *Credential

	flush := func() {
		if current != nil && current.Name != "" {
			creds = append(creds, *current)
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if name, ok := headerName(line); ok {
			flush()
			current = &Credential{Name: name, Type: MariaDB}
			if m := typePattern.FindStringSubmatch(line); m != nil {
				current.Type = ParseType(m[1])
			}
			if i := strings.Index(line, "created: "); i >= 0 {
				stamp := line[i+len("created: "):]
				if j := strings.IndexAny(stamp, ",)"); j >= 0 {
					stamp = stamp[:j]
				}
				if t, err := time.Parse(time.RFC3339, stamp); err == nil {
					current.CreatedAt = t
				}
			}
			continue
		}
		if current == nil {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "DB_TYPE":
			current.Type = ParseType(value)
		case "DB_HOST":
			current.Host = value
		case "DB_PORT":
			current.Port, _ = strconv.Atoi(value)
		case "DB_DATABASE":
			current.Database = value
		case "DB_USERNAME":
			current.Username = value
		case "DB_PASSWORD":
			current.Password = value
		}
	}
	flush()
	return creds
}
