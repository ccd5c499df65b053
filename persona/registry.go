package persona

// Registry routes persona names to profile stores. Unknown names resolve
// to the default persona.
type Registry struct {
	stores      map[string]*Store
	defaultName string
}

// NewRegistry creates a registry. The first store is the default.
func NewRegistry(stores ...*Store) *Registry {
	r := &Registry{stores: make(map[string]*Store, len(stores))}
	for i, s := range stores {
		r.stores[s.Name()] = s
		if i == 0 {
			r.defaultName = s.Name()
		}
	}
	return r
}

// Get resolves a persona name, falling back to the default.
func (r *Registry) Get(name string) *Store {
	if s, ok := r.stores[name]; ok {
		return s
	}
	return r.stores[r.defaultName]
}

// Default returns the default persona.
func (r *Registry) Default() *Store { return r.Get(r.defaultName) }

// Names returns the registered persona names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	return names
}

// All returns every registered store.
func (r *Registry) All() []*Store {
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	return stores
}
