package breaker

import (
	"sync"

	"github.com/vietddude/shield/internal/infra/store"
)

// Registry hands out breakers keyed by service name, creating them
// lazily on first use. All breakers share one store, so independent
// services never share circuit state while multiple instances of the
// same service do.
type Registry struct {
	mu        sync.Mutex
	store     store.Store
	defaults  Config
	overrides map[string]Config
	breakers  map[string]*Breaker
}

// NewRegistry creates a registry. overrides supplies per-service config
// for services that need something other than the defaults.
func NewRegistry(st store.Store, defaults Config, overrides map[string]Config) *Registry {
	return &Registry{
		store:     st,
		defaults:  defaults,
		overrides: overrides,
		breakers:  make(map[string]*Breaker),
	}
}

// For returns the breaker for the named service, creating it if needed.
func (r *Registry) For(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[service]; ok {
		return b
	}

	cfg := r.defaults
	if override, ok := r.overrides[service]; ok {
		cfg = override
	}

	b := New(service, cfg, r.store)
	r.breakers[service] = b
	return b
}

// Services returns the names of all breakers created so far.
func (r *Registry) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
