package project

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when no project matches a lookup.
	ErrNotFound = errors.New("project not found")

	// ErrWebhookNotFound covers unknown and disabled webhook registrations.
	ErrWebhookNotFound = errors.New("webhook not found or disabled")
)

// Registry manages the collection of loaded projects
type Registry struct {
	mu        sync.RWMutex
	projects  map[string]*Project
	byWebhook map[int64]*Project
}

// NewRegistry creates a new project registry keyed by "owner/name".
func NewRegistry(projects map[string]*Project) *Registry {
	r := &Registry{
		projects:  projects,
		byWebhook: make(map[int64]*Project),
	}
	for _, p := range projects {
		if p.Webhook != nil {
			r.byWebhook[p.Webhook.ID] = p
		}
	}
	return r
}

// Get retrieves a project by owner and name
func (r *Registry) Get(owner, name string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.projects[owner+"/"+name]
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, owner, name)
	}

	return p, nil
}

// FindByWebhookID resolves an enabled webhook registration to its project.
func (r *Registry) FindByWebhookID(_ context.Context, id int64) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.byWebhook[id]
	if !exists || !p.Webhook.Enabled {
		return nil, ErrWebhookNotFound
	}

	return p, nil
}

// List returns all projects sorted by key
func (r *Registry) List() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })

	return out
}

// Count returns the number of projects
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.projects)
}
