package circuitbreaker

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry owns one breaker per dependency name. Breakers are created lazily
// and never removed for the lifetime of the registry.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	configs  map[string]Config
	fallback func(name string) Config
	opts     []Option
	logger   *slog.Logger
}

// NewRegistry creates a registry. configs maps a dependency name, or a name
// prefix before "/", to its configuration; other names use DefaultConfig.
func NewRegistry(configs map[string]Config, opts ...Option) *Registry {
	r := &Registry{
		breakers: make(map[string]*CircuitBreaker),
		configs:  make(map[string]Config, len(configs)),
		fallback: DefaultConfig,
		opts:     opts,
	}
	for name, cfg := range configs {
		r.configs[name] = cfg
	}
	return r
}

// Get returns the breaker for name, creating it on first use.
// "feed_sources/EBA" is configured by "feed_sources" unless it has its own entry.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg := r.configFor(name)
	cfg.Name = name
	cb := New(cfg, r.opts...)
	r.breakers[name] = cb
	return cb
}

func (r *Registry) configFor(name string) Config {
	if cfg, ok := r.configs[name]; ok {
		return cfg
	}
	if i := strings.Index(name, "/"); i > 0 {
		if cfg, ok := r.configs[name[:i]]; ok {
			return cfg
		}
	}
	return r.fallback(name)
}

// Lookup returns an existing breaker without creating one.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// IsClosed reports whether the breaker for name is closed. A dependency that
// has never been called has no breaker yet and counts as closed.
func (r *Registry) IsClosed(name string) bool {
	cb, ok := r.Lookup(name)
	if !ok {
		return true
	}
	return cb.IsClosed()
}

// Snapshots returns the state of every breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
