package oauth

import (
	"fmt"
	"sort"
)

// HubConfig lists the providers a Hub serves.
type HubConfig struct {
	// Registry resolves Settings.ProviderName to an API. Nil means
	// DefaultRegistry. The registry is frozen by NewHub.
	Registry *Registry

	// Resolver is shared by every service. Nil means a new MemoryResolver.
	Resolver SessionResolver

	Settings        []Settings
	ProviderOptions []ProviderOption
	ServiceOptions  []Option

	// Breaker, when set, gives every service its own circuit breaker.
	Breaker func(providerName string) CircuitBreaker
}

// Hub maps provider names to services. It is built once at startup and
// read-only afterwards.
type Hub struct {
	registry *Registry
	services map[string]*Service
}

// NewHub builds and initializes one Service per Settings entry.
func NewHub(cfg HubConfig) (*Hub, error) {
	if len(cfg.Settings) == 0 {
		return nil, &Error{Kind: ErrConfiguration, Op: "new hub", Description: "no providers configured"}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	registry.Freeze()

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewMemoryResolver()
	}

	h := &Hub{registry: registry, services: make(map[string]*Service, len(cfg.Settings))}
	for _, settings := range cfg.Settings {
		name := settings.ProviderName
		if _, dup := h.services[name]; dup {
			return nil, &Error{Kind: ErrConfiguration, Provider: name, Op: "new hub",
				Description: "provider configured twice"}
		}

		provider, err := registry.NewProvider(name, cfg.ProviderOptions...)
		if err != nil {
			return nil, err
		}
		opts := cfg.ServiceOptions
		if cfg.Breaker != nil {
			opts = append(opts[:len(opts):len(opts)], WithBreaker(cfg.Breaker(name)))
		}
		svc, err := New(provider, resolver, settings, opts...)
		if err != nil {
			return nil, fmt.Errorf("oauth: provider %s: %w", name, err)
		}
		h.services[name] = svc
	}
	return h, nil
}

// Service returns the service for a provider name.
func (h *Hub) Service(name string) (*Service, error) {
	svc, ok := h.services[name]
	if !ok {
		return nil, &Error{Kind: ErrConfiguration, Provider: name, Op: "hub lookup",
			Description: "provider not configured"}
	}
	return svc, nil
}

// Names returns the configured provider names, sorted.
func (h *Hub) Names() []string {
	names := make([]string, 0, len(h.services))
	for name := range h.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry returns the frozen registry.
func (h *Hub) Registry() *Registry { return h.registry }
