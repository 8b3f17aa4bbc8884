package agent

import (
	"sort"
	"sync"
)

// Entry describes a registered agent in the directory.
type Entry struct {
	Name        string
	Description string
}

// Registry is a thread-safe directory of named responders. It feeds the
// router and the MCP server.
type Registry struct {
	mu         sync.RWMutex
	responders map[string]Responder
	entries    map[string]Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		responders: make(map[string]Responder),
		entries:    make(map[string]Entry),
	}
}

// Register adds a responder to the registry. If one with the same name
// already exists, it is replaced.
func (r *Registry) Register(name, description string, responder Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.responders[name] = responder
	r.entries[name] = Entry{Name: name, Description: description}
}

// Get returns the named responder and true, or nil and false if not found.
func (r *Registry) Get(name string) (Responder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resp, ok := r.responders[name]
	return resp, ok
}

// List returns all registry entries sorted by name.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	return entries
}

// Routes returns the named entries as router routes, in the order given.
// Unknown names are skipped. With no names, every entry is returned sorted by
// name.
func (r *Registry) Routes(names ...string) []Route {
	if len(names) == 0 {
		for _, e := range r.List() {
			names = append(names, e.Name)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]Route, 0, len(names))
	for _, n := range names {
		resp, ok := r.responders[n]
		if !ok {
			continue
		}
		routes = append(routes, Route{
			Name:        n,
			Description: r.entries[n].Description,
			Responder:   resp,
		})
	}

	return routes
}
