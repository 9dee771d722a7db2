package jsonrpc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

// Registry maps method names to methods. Lookup is an exact string match.
type Registry struct {
	methods map[string]*Method
	mutex   sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		methods: make(map[string]*Method),
	}
}

// Add registers a method. Names must be unique and must not use the reserved
// request wrapper name.
func (r *Registry) Add(m *Method) error {
	if m == nil {
		return fmt.Errorf("method cannot be nil: %w", ErrInvalidHandler)
	}
	if err := validMethodName(m.name); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.methods[m.name]; exists {
		return fmt.Errorf("method %q: %w", m.name, ErrMethodExists)
	}
	r.methods[m.name] = m
	logger.Debug("Method registered", "method", m.name, "declared_errors", len(m.errors))
	return nil
}

// Resolve looks up a method by name
func (r *Registry) Resolve(name string) (*Method, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	m, ok := r.methods[name]
	return m, ok
}

// Methods returns all registered methods sorted by name
func (r *Registry) Methods() []*Method {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]*Method, 0, len(r.methods))
	for _, m := range r.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].name < out[j].name
	})
	return out
}

// Len returns the number of registered methods
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.methods)
}
