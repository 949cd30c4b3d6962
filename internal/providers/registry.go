package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

// Registry holds the provider instances built at process start. It is safe
// for concurrent use; nothing is added after startup.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	defaultName string
}

// NewRegistry creates a registry whose Resolve("") returns defaultName.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		providers:   map[string]Provider{},
		defaultName: normalizeName(defaultName),
	}
}

// Register adds p under its Name.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalizeName(p.Name())] = p
}

// Resolve returns the named provider, or the deployment default when name is
// empty. An unknown name is a configuration error.
func (r *Registry) Resolve(name string) (Provider, error) {
	key := normalizeName(name)
	if key == "" {
		key = r.defaultName
	}
	r.mu.RLock()
	p, ok := r.providers[key]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ConfigurationError("providers", fmt.Sprintf("unknown provider %q", key), nil)
	}
	return p, nil
}

// Default is the name Resolve("") uses.
func (r *Registry) Default() string { return r.defaultName }

// Names lists the registered providers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health checks every provider. Results are advisory.
func (r *Registry) Health(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	for _, name := range r.Names() {
		p, err := r.Resolve(name)
		if err != nil {
			continue
		}
		out[name] = p.HealthCheck(ctx)
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
