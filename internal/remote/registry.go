package remote

import (
	"fmt"
	"sort"
)

// Registry maps backends to their connectors. It is the only place where the
// backend identity selects an implementation.
type Registry struct {
	connectors map[Backend]Connector
}

// NewRegistry creates a registry from the given connectors
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[Backend]Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Backend()] = c
	}
	return r
}

// Connector returns the connector registered for backend
func (r *Registry) Connector(backend Backend) (Connector, error) {
	c, ok := r.connectors[backend]
	if !ok {
		return nil, fmt.Errorf("backend %q is not available", backend)
	}
	return c, nil
}

// Backends returns registered backends sorted by name
func (r *Registry) Backends() []Backend {
	backends := make([]Backend, 0, len(r.connectors))
	for b := range r.connectors {
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool {
		return backends[i] < backends[j]
	})
	return backends
}
