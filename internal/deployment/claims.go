package deployment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dployr/internal/security"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrInProgress is returned by WithClaim when the project is already claimed.
var ErrInProgress = errors.New("deployment already in progress")

// ClaimRegistry records which projects have a deployment in flight.
//
// Each successful claim is identified by a fresh token; only the holder of
// the current token can release it, so a late release from a finished run
// can never free a claim taken by a newer one.
//
// A registry created with NewSharedClaimRegistry also holds an exclusive
// lock file per project while a claim is live, so every dployr process
// pointed at the same lock directory (the server, manual deploys, repo
// commands) sees the same claims.
type ClaimRegistry struct {
	mu      sync.Mutex
	claims  map[string]*claim
	lockDir string
}

type claim struct {
	token uuid.UUID
	run   *Run
	lock  *flock.Flock
}

// NewClaimRegistry creates an empty registry
func NewClaimRegistry() *ClaimRegistry {
	return &ClaimRegistry{
		claims: make(map[string]*claim),
	}
}

// NewSharedClaimRegistry creates a registry whose claims are also exclusive
// across processes through lock files in lockDir.
func NewSharedClaimRegistry(lockDir string) (*ClaimRegistry, error) {
	if err := os.MkdirAll(lockDir, security.PermDirectory); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	r := NewClaimRegistry()
	r.lockDir = lockDir
	return r, nil
}

// LockPath returns the lock file guarding key, or "" for an in-memory
// registry. Keys are "owner/name"; neither part may contain a dot.
func (r *ClaimRegistry) LockPath(key string) string {
	if r.lockDir == "" {
		return ""
	}
	return filepath.Join(r.lockDir, strings.Replace(key, "/", ".", 1)+".lock")
}

// TryClaim atomically claims key for run. It returns the claim token and
// true on success, or false when key is already claimed, here or by another
// process sharing the lock directory. A lock file that cannot be opened
// counts as held.
func (r *ClaimRegistry) TryClaim(key string, run *Run) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.claims[key]; held {
		return uuid.Nil, false
	}

	var lock *flock.Flock
	if path := r.LockPath(key); path != "" {
		lock = flock.New(path)
		locked, err := lock.TryLock()
		if err != nil || !locked {
			return uuid.Nil, false
		}
	}

	token := uuid.New()
	r.claims[key] = &claim{token: token, run: run, lock: lock}
	return token, true
}

// WithClaim runs fn while holding the claim on key. It returns ErrInProgress
// without calling fn when key is already claimed.
func (r *ClaimRegistry) WithClaim(key string, run *Run, fn func() error) error {
	token, ok := r.TryClaim(key, run)
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrInProgress)
	}
	defer r.Release(key, token)
	return fn()
}

// Release frees key if token matches the current claim. It reports whether
// the claim was released.
func (r *ClaimRegistry) Release(key string, token uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, held := r.claims[key]
	if !held || c.token != token {
		return false
	}
	delete(r.claims, key)
	if c.lock != nil {
		_ = c.lock.Unlock()
	}
	return true
}

// Held reports whether key is claimed by this registry.
func (r *ClaimRegistry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, held := r.claims[key]
	return held
}

// update applies fn to the run attached to a live claim.
func (r *ClaimRegistry) update(key string, token uuid.UUID, fn func(*Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, held := r.claims[key]; held && c.token == token {
		fn(c.run)
	}
}

// snapshot returns a copy of the run attached to key.
func (r *ClaimRegistry) snapshot(key string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, held := r.claims[key]
	if !held {
		return Run{}, false
	}
	return *c.run, true
}
