package capability

import (
	"errors"
	"sync"
)

// ErrNoTemplate is returned when no registered template matches a vehicle.
var ErrNoTemplate = errors.New("no capability template matches vehicle")

// Registry holds registered templates. Registration appends without
// deduplication; Find resolves conflicts by specificity, ties by
// registration order, so lookups stay deterministic.
type Registry struct {
	mu        sync.RWMutex
	templates []*Template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a template. The registry keeps its own copy, so the
// template is immutable from the caller's point of view afterwards.
func (r *Registry) Register(t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = append(r.templates, t.clone())
}

// Find returns the template whose set matcher fields all equal the vehicle
// attributes, preferring the highest count of set fields. Equal specificity
// resolves to the first registered template.
func (r *Registry) Find(v VehicleAttributes) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Template
	bestSpec := -1
	for _, t := range r.templates {
		if !t.Match.Matches(v) {
			continue
		}
		if spec := t.Match.Specificity(); spec > bestSpec {
			best = t
			bestSpec = spec
		}
	}
	if best == nil {
		return nil, ErrNoTemplate
	}
	return best, nil
}

// Len returns the number of registered templates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}
