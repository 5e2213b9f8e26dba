package route

import (
	"slices"
	"sync"
)

// Registry holds the current definition of every route. Definitions are
// replaced wholesale; every replacement of an existing route, and every
// removal, fires the change hook so its cached shards are invalidated. A
// reload cannot tell which parts of the route (SQL, parameters, policy) its
// shards depend on, so an unchanged policy is no reason to keep them.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	onChange func(id string)
}

// NewRegistry returns an empty registry. onChange may be nil; it is called
// outside the registry lock, typically with (*cache.Cache).InvalidateRoute.
func NewRegistry(onChange func(id string)) *Registry {
	return &Registry{defs: make(map[string]Definition), onChange: onChange}
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// Replace installs def and returns the previous definition, if any.
func (r *Registry) Replace(def Definition) (prev Definition, existed bool) {
	r.mu.Lock()
	prev, existed = r.defs[def.ID]
	r.defs[def.ID] = def
	r.mu.Unlock()

	if existed && r.onChange != nil {
		r.onChange(def.ID)
	}
	return prev, existed
}

// Remove drops id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.defs[id]
	delete(r.defs, id)
	r.mu.Unlock()

	if ok && r.onChange != nil {
		r.onChange(id)
	}
	return ok
}

// IDs lists registered routes in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Sync makes the registry hold exactly defs: new routes are added,
// existing ones replaced, and routes missing from defs removed.
func (r *Registry) Sync(defs []Definition) {
	keep := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		keep[d.ID] = struct{}{}
		r.Replace(d)
	}
	for _, id := range r.IDs() {
		if _, ok := keep[id]; !ok {
			r.Remove(id)
		}
	}
}
