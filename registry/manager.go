package registry

import (
	"fmt"
	"sort"
)

// Registry holds node manifests by name.
type Registry struct {
	nodes map[string]NodeManifest
}

// New creates a registry holding manifests. Later duplicates replace earlier ones.
func New(manifests ...NodeManifest) *Registry {
	r := &Registry{nodes: make(map[string]NodeManifest, len(manifests))}
	for _, m := range manifests {
		r.nodes[m.Name] = m
	}
	return r
}

// Default returns a registry of the builtin nodes.
func Default() *Registry {
	return New(Builtin()...)
}

// Get returns the manifest of the node called name.
func (r *Registry) Get(name string) (*NodeManifest, error) {
	m, ok := r.nodes[name]
	if !ok {
		return nil, fmt.Errorf("node '%s' not registered", name)
	}
	return &m, nil
}

// List returns all manifests sorted by name.
func (r *Registry) List() []NodeManifest {
	out := make([]NodeManifest, 0, len(r.nodes))
	for _, m := range r.nodes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DisplayNames maps node names to the names shown in the host UI.
func (r *Registry) DisplayNames() map[string]string {
	out := make(map[string]string, len(r.nodes))
	for name, m := range r.nodes {
		out[name] = m.DisplayName
	}
	return out
}

// Dump writes every manifest into dir and returns the number written.
func (r *Registry) Dump(dir string) (int, error) {
	store := NewStore(dir)
	if err := store.EnsureDir(); err != nil {
		return 0, fmt.Errorf("create manifest dir: %w", err)
	}
	list := r.List()
	for i := range list {
		if err := store.SaveManifest(&list[i]); err != nil {
			return i, fmt.Errorf("save manifest %s: %w", list[i].Name, err)
		}
	}
	return len(list), nil
}
