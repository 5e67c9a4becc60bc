package game

import (
	"fmt"
	"sync"
)

// Registry holds the game definitions a server hosts. Names() preserves
// registration order, which is also the order the lobby lists games in.
type Registry struct {
	mu    sync.RWMutex
	names []string
	defs  map[string]Definition
}

func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition)}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(def Definition) error {
	name := def.Name()
	if name == "" {
		return fmt.Errorf("register game: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[name]; dup {
		return fmt.Errorf("register game %q: already registered", name)
	}
	r.defs[name] = def
	r.names = append(r.names, name)
	return nil
}

func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
